package models

import "encoding/json"

// Snapshot is one run's merged output: the status envelope with merged station records.
type Snapshot struct {
	LastUpdatedOther int64        `json:"last_updated_other"`
	TTL              int64        `json:"ttl"`
	Data             SnapshotData `json:"data"`
}

// SnapshotData wraps the merged station list.
type SnapshotData struct {
	Stations []MergedStation `json:"stations"`
}

// MergedStation is a status record joined with its information record.
// Info is nil when the station had no information record in the run.
type MergedStation struct {
	StationStatusRecord
	Info *StationDetails
}

type mergedInfoFields struct {
	Name          string   `json:"name"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Capacity      int64    `json:"capacity"`
	RentalMethods []string `json:"rental_methods"`
}

// MarshalJSON renders the station as one flat object. Information fields are omitted
// entirely for stations without an information record; station_code comes from the
// information side when both are present.
func (m MergedStation) MarshalJSON() ([]byte, error) {
	type statusFields StationStatusRecord
	out := struct {
		statusFields
		*mergedInfoFields
	}{statusFields: statusFields(m.StationStatusRecord)}

	if m.Info != nil {
		out.StationCode = m.Info.StationCode
		out.mergedInfoFields = &mergedInfoFields{
			Name:          m.Info.Name,
			Lat:           m.Info.Lat,
			Lon:           m.Info.Lon,
			Capacity:      m.Info.Capacity,
			RentalMethods: m.Info.RentalMethods,
		}
	}
	return json.Marshal(out)
}
