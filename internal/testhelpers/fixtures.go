// Package testhelpers builds upstream payloads for tests. Payloads use the upstream
// spellings (lastUpdatedOther, stationCode, legacy duplicates) so tests exercise the
// same canonicalization production traffic does.
package testhelpers

import (
	"encoding/json"
	"testing"
)

// DefaultTTL is the ttl used by fixture envelopes.
const DefaultTTL = 3600

// InformationStation returns a valid station_information entry.
func InformationStation(id int64, code string) map[string]any {
	return map[string]any{
		"station_id":     id,
		"name":           "Station " + code,
		"lat":            48.865983,
		"lon":            2.275725,
		"capacity":       35,
		"stationCode":    code,
		"rental_methods": []any{"CREDITCARD"},
	}
}

// InformationPayload wraps stations in a station_information envelope.
func InformationPayload(lastUpdated int64, stations ...map[string]any) map[string]any {
	if stations == nil {
		stations = []map[string]any{}
	}
	return map[string]any{
		"lastUpdatedOther": lastUpdated,
		"ttl":              DefaultTTL,
		"data":             map[string]any{"stations": stations},
	}
}

// StatusStation returns a valid station_status entry including the legacy duplicates.
func StatusStation(id int64, code string) map[string]any {
	return map[string]any{
		"stationCode":         code,
		"station_id":          id,
		"num_bikes_available": 7,
		"numBikesAvailable":   7,
		"num_bikes_available_types": []any{
			map[string]any{"mechanical": 4},
			map[string]any{"ebike": 3},
		},
		"num_docks_available": 28,
		"numDocksAvailable":   28,
		"is_installed":        1,
		"is_returning":        1,
		"is_renting":          1,
		"last_reported":       1636549998,
	}
}

// StatusPayload wraps stations in a station_status envelope.
func StatusPayload(lastUpdated int64, stations ...map[string]any) map[string]any {
	if stations == nil {
		stations = []map[string]any{}
	}
	return map[string]any{
		"lastUpdatedOther": lastUpdated,
		"ttl":              DefaultTTL,
		"data":             map[string]any{"stations": stations},
	}
}

// MustJSON marshals v or fails the test.
func MustJSON(t testing.TB, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}
