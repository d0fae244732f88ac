package merge

import (
	"fmt"

	"github.com/julienvalera/velib-harvester/internal/models"
)

// JoinMiss is a status record with no matching information record. It is not fatal:
// the merged record keeps its status fields only.
type JoinMiss struct {
	// StationID is nil when the status record carried no station_id.
	StationID   *int64
	StationCode string
	Position    int
}

func (m JoinMiss) Error() string {
	if m.StationID == nil {
		return fmt.Sprintf("station %q at position %d has no station_id", m.StationCode, m.Position)
	}
	return fmt.Sprintf("station_id %d (%q) missing from information index", *m.StationID, m.StationCode)
}

// CodeMismatch reports a matched station whose two payloads disagree on station_code.
// The information value is the one written.
type CodeMismatch struct {
	StationID       int64
	StatusCode      string
	InformationCode string
}

// Report describes what happened during one Merge.
type Report struct {
	Matched        int
	JoinMisses     []JoinMiss
	CodeMismatches []CodeMismatch
}

// Merge joins every status record with its information record and wraps the result in
// the status envelope. Output order follows the status payload.
func Merge(index Index, status models.StationStatus) (models.Snapshot, Report) {
	var report Report
	merged := make([]models.MergedStation, 0, len(status.Data.Stations))
	for i, rec := range status.Data.Stations {
		out := models.MergedStation{StationStatusRecord: rec}
		if rec.StationID == nil {
			report.JoinMisses = append(report.JoinMisses, JoinMiss{StationCode: rec.StationCode, Position: i})
			merged = append(merged, out)
			continue
		}
		details, ok := index[*rec.StationID]
		if !ok {
			id := *rec.StationID
			report.JoinMisses = append(report.JoinMisses, JoinMiss{StationID: &id, StationCode: rec.StationCode, Position: i})
			merged = append(merged, out)
			continue
		}
		if details.StationCode != rec.StationCode {
			report.CodeMismatches = append(report.CodeMismatches, CodeMismatch{
				StationID:       *rec.StationID,
				StatusCode:      rec.StationCode,
				InformationCode: details.StationCode,
			})
		}
		d := details
		out.Info = &d
		report.Matched++
		merged = append(merged, out)
	}
	return models.Snapshot{
		LastUpdatedOther: status.LastUpdatedOther,
		TTL:              status.TTL,
		Data:             models.SnapshotData{Stations: merged},
	}, report
}
