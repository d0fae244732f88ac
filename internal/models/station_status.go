package models

import (
	"encoding/json"
	"fmt"
)

// Bike type keys used in num_bikes_available_types entries.
const (
	BikeTypeMechanical = "mechanical"
	BikeTypeElectrical = "ebike"
)

// StationStatus is the validated station_status payload.
type StationStatus struct {
	LastUpdatedOther int64      `json:"last_updated_other"`
	TTL              int64      `json:"ttl"`
	Data             StatusData `json:"data"`
}

// StatusData wraps the station list of a StationStatus payload.
type StatusData struct {
	Stations []StationStatusRecord `json:"stations"`
}

// StationStatusRecord is the live state of one station.
type StationStatusRecord struct {
	StationCode            string         `json:"station_code"`
	StationID              *int64         `json:"station_id"`
	NumBikesAvailable      int64          `json:"num_bikes_available"`
	NumBikesAvailableTypes AvailableTypes `json:"num_bikes_available_types"`
	NumDocksAvailable      int64          `json:"num_docks_available"`
	IsInstalled            int64          `json:"is_installed"`
	IsReturning            int64          `json:"is_returning"`
	IsRenting              int64          `json:"is_renting"`
	LastReported           int64          `json:"last_reported"`
}

// AvailableTypes holds available bike counts per type. On the wire it is a two-element
// array of single-key objects, mechanical first: [{"mechanical":N},{"ebike":N}].
type AvailableTypes struct {
	Mechanical int64
	Electrical int64
}

func (a AvailableTypes) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]map[string]int64{
		{BikeTypeMechanical: a.Mechanical},
		{BikeTypeElectrical: a.Electrical},
	})
}

func (a *AvailableTypes) UnmarshalJSON(b []byte) error {
	var entries []map[string]int64
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	if len(entries) != 2 {
		return fmt.Errorf("available types: got %d entries, want 2", len(entries))
	}
	a.Mechanical = entries[0][BikeTypeMechanical]
	a.Electrical = entries[1][BikeTypeElectrical]
	return nil
}
