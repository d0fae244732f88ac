// Package merge joins station_status records with station_information records.
package merge

import "github.com/julienvalera/velib-harvester/internal/models"

// Index maps station_id to the rest of the station's information record.
type Index map[int64]models.StationDetails

// Duplicate records a station_id seen more than once while building an Index.
// Kept is the position of the record that won, Dropped the one it replaced.
type Duplicate struct {
	StationID int64
	Kept      int
	Dropped   int
}

// BuildIndex indexes stations by station_id. On duplicate ids the last record wins and
// every collision is returned so callers can warn about it.
func BuildIndex(stations []models.StationInfoRecord) (Index, []Duplicate) {
	idx := make(Index, len(stations))
	seen := make(map[int64]int, len(stations))
	var dups []Duplicate
	for i, s := range stations {
		if prev, ok := seen[s.StationID]; ok {
			dups = append(dups, Duplicate{StationID: s.StationID, Kept: i, Dropped: prev})
		}
		seen[s.StationID] = i
		idx[s.StationID] = s.Details()
	}
	return idx, dups
}
