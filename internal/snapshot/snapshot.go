// Package snapshot names and encodes merged snapshots for storage.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/julienvalera/velib-harvester/internal/models"
)

// DefaultSuffix ends every snapshot key.
const DefaultSuffix = "velibstatus.json"

const stampLayout = "2006-01-02-15_04_05"

// Key returns the storage key for a snapshot taken at ts (epoch seconds):
// <year>/<month>/<day>/<YYYY-MM-DD-HH_MM_SS>_<suffix>, evaluated in loc.
// Directory segments are not zero padded; the file stamp is. A nil loc means time.Local.
func Key(ts int64, loc *time.Location, suffix string) string {
	if loc == nil {
		loc = time.Local
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	t := time.Unix(ts, 0).In(loc)
	return fmt.Sprintf("%d/%d/%d/%s_%s", t.Year(), int(t.Month()), t.Day(), t.Format(stampLayout), suffix)
}

// Encode renders a snapshot as the stored JSON document.
func Encode(s models.Snapshot) ([]byte, error) {
	if s.Data.Stations == nil {
		s.Data.Stations = []models.MergedStation{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// LoadLocation resolves a configured zone name. Empty and "Local" mean time.Local.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("snapshot timezone %q: %w", name, err)
	}
	return loc, nil
}
