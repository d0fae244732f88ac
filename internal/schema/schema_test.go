package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienvalera/velib-harvester/internal/models"
	"github.com/julienvalera/velib-harvester/internal/testhelpers"
)

func newValidator(t *testing.T, strict bool) *Validator {
	t.Helper()
	v, err := NewValidator(Options{StrictBikeTypes: strict})
	require.NoError(t, err)
	return v
}

func requireSchemaError(t *testing.T, err error) *SchemaError {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSchema), "error %v should match ErrSchema", err)
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	return se
}

func findViolation(se *SchemaError, kind Kind, path string) (Violation, bool) {
	for _, v := range se.Violations {
		if v.Kind == kind && v.Path == path {
			return v, true
		}
	}
	return Violation{}, false
}

func TestStationInformation_EmptyObject_ReportsEveryMissingField(t *testing.T) {
	v := newValidator(t, true)

	_, err := v.StationInformation([]byte(`{}`))

	se := requireSchemaError(t, err)
	assert.Equal(t, NameStationInformation, se.Schema)
	for _, field := range []string{"last_updated_other", "ttl", "data"} {
		_, ok := findViolation(se, KindMissingField, field)
		assert.True(t, ok, "missing %s not reported: %v", field, se)
	}
}

func TestStationInformation_Valid(t *testing.T) {
	v := newValidator(t, true)
	station := testhelpers.InformationStation(1, "16107")
	station["name"] = "Place du marché"
	delete(station, "rental_methods")
	raw := testhelpers.MustJSON(t, testhelpers.InformationPayload(1636550000, station))

	info, err := v.StationInformation(raw)

	require.NoError(t, err)
	assert.Equal(t, int64(1636550000), info.LastUpdatedOther)
	assert.Equal(t, int64(testhelpers.DefaultTTL), info.TTL)
	require.Len(t, info.Data.Stations, 1)
	got := info.Data.Stations[0]
	assert.Equal(t, int64(1), got.StationID)
	assert.Equal(t, "Place du marché", got.Name)
	assert.Equal(t, 48.865983, got.Lat)
	assert.Equal(t, 2.275725, got.Lon)
	assert.Equal(t, int64(35), got.Capacity)
	assert.Equal(t, "16107", got.StationCode)
	assert.Nil(t, got.RentalMethods)
}

func TestStationInformation_CanonicalNamesAccepted(t *testing.T) {
	v := newValidator(t, true)
	raw := []byte(`{"last_updated_other": 5, "ttl": 60, "data": {"stations": [
		{"station_id": 2, "name": "B", "lat": 1, "lon": 2, "capacity": 3, "station_code": "C2", "rental_methods": null}
	]}}`)

	info, err := v.StationInformation(raw)

	require.NoError(t, err)
	assert.Equal(t, int64(5), info.LastUpdatedOther)
	assert.Equal(t, "C2", info.Data.Stations[0].StationCode)
}

func TestStationInformation_RoundTrip(t *testing.T) {
	v := newValidator(t, true)
	raw := testhelpers.MustJSON(t, testhelpers.InformationPayload(100,
		testhelpers.InformationStation(1, "C1"),
		testhelpers.InformationStation(2, "C2"),
	))

	first, err := v.StationInformation(raw)
	require.NoError(t, err)
	reencoded, err := json.Marshal(first)
	require.NoError(t, err)
	second, err := v.StationInformation(reencoded)

	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStationInformation_UnexpectedField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p map[string]any)
		path   string
	}{
		{
			name:   "top level",
			mutate: func(p map[string]any) { p["extraField"] = "value" },
			path:   "extraField",
		},
		{
			name:   "data envelope",
			mutate: func(p map[string]any) { p["data"].(map[string]any)["cursor"] = 1 },
			path:   "data.cursor",
		},
		{
			name: "station",
			mutate: func(p map[string]any) {
				stations := p["data"].(map[string]any)["stations"].([]map[string]any)
				stations[0]["address"] = "1 rue de Rivoli"
			},
			path: "data.stations.0.address",
		},
	}
	v := newValidator(t, true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := testhelpers.InformationPayload(0, testhelpers.InformationStation(1, "C1"))
			tt.mutate(payload)

			_, err := v.StationInformation(testhelpers.MustJSON(t, payload))

			se := requireSchemaError(t, err)
			_, ok := findViolation(se, KindUnexpectedField, tt.path)
			assert.True(t, ok, "want unexpected_field at %s, got %v", tt.path, se)
		})
	}
}

func TestStationInformation_WrongTypeIsNotCoerced(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		path  string
	}{
		{"string ttl", "ttl", "value", "ttl"},
		{"numeric string ttl", "ttl", "3600", "ttl"},
		{"float ttl", "ttl", 36.5, "ttl"},
	}
	v := newValidator(t, true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := testhelpers.InformationPayload(0, testhelpers.InformationStation(1, "C1"))
			payload[tt.field] = tt.value

			_, err := v.StationInformation(testhelpers.MustJSON(t, payload))

			se := requireSchemaError(t, err)
			got, ok := findViolation(se, KindTypeMismatch, tt.path)
			require.True(t, ok, "want type_mismatch at %s, got %v", tt.path, se)
			assert.Contains(t, got.Expected, "integer")
		})
	}
}

func TestStationInformation_StationFieldTypes(t *testing.T) {
	v := newValidator(t, true)
	station := testhelpers.InformationStation(1, "C1")
	station["lat"] = "48.86"
	station["capacity"] = "35"
	payload := testhelpers.InformationPayload(0, station)

	_, err := v.StationInformation(testhelpers.MustJSON(t, payload))

	se := requireSchemaError(t, err)
	_, latOK := findViolation(se, KindTypeMismatch, "data.stations.0.lat")
	_, capOK := findViolation(se, KindTypeMismatch, "data.stations.0.capacity")
	assert.True(t, latOK, "lat violation missing: %v", se)
	assert.True(t, capOK, "capacity violation missing: %v", se)
}

func TestStationInformation_IntegralFloatsReportedPerStation(t *testing.T) {
	v := newValidator(t, true)
	first := testhelpers.InformationStation(1, "A")
	first["capacity"] = json.Number("48.0")
	second := testhelpers.InformationStation(2, "B")
	second["capacity"] = json.Number("35.0")
	raw := testhelpers.MustJSON(t, testhelpers.InformationPayload(0, first, second))

	_, err := v.StationInformation(raw)

	se := requireSchemaError(t, err)
	assert.Len(t, se.Violations, 2, "got %v", se)
	for _, path := range []string{"data.stations.0.capacity", "data.stations.1.capacity"} {
		got, ok := findViolation(se, KindTypeMismatch, path)
		require.True(t, ok, "want type_mismatch at %s, got %v", path, se)
		assert.Equal(t, "integer", got.Expected)
	}
}

func TestStationInformation_IntegerLiterals(t *testing.T) {
	tests := []struct {
		name    string
		value   json.Number
		message string
	}{
		{"exponent", "1e3", "integer must be written without fraction or exponent"},
		{"overflow", "9223372036854775808", "integer does not fit in 64 bits"},
	}
	v := newValidator(t, true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := testhelpers.InformationPayload(0, testhelpers.InformationStation(1, "C1"))
			payload["ttl"] = tt.value

			_, err := v.StationInformation(testhelpers.MustJSON(t, payload))

			se := requireSchemaError(t, err)
			require.Len(t, se.Violations, 1, "got %v", se)
			assert.Equal(t, KindTypeMismatch, se.Violations[0].Kind)
			assert.Equal(t, "ttl", se.Violations[0].Path)
			assert.Equal(t, tt.message, se.Violations[0].Message)
		})
	}
}

func TestStationStatus_IntegralFloatInBikeTypes(t *testing.T) {
	v := newValidator(t, true)
	station := testhelpers.StatusStation(1, "A")
	station["num_bikes_available_types"] = []any{
		map[string]any{"mechanical": json.Number("2.0")},
		map[string]any{"ebike": 1},
	}
	station["num_docks_available"] = json.Number("4.00")

	_, err := v.StationStatus(testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station)))

	se := requireSchemaError(t, err)
	_, typesOK := findViolation(se, KindTypeMismatch, "data.stations.0.num_bikes_available_types.0.mechanical")
	_, docksOK := findViolation(se, KindTypeMismatch, "data.stations.0.num_docks_available")
	assert.True(t, typesOK, "bike type violation missing: %v", se)
	assert.True(t, docksOK, "docks violation missing: %v", se)
}

func TestIntegerFields_FromSchemaDocument(t *testing.T) {
	doc, err := documents.ReadFile("schemas/" + NameStationInformation + ".json")
	require.NoError(t, err)

	paths, err := integerFields(doc)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"data.stations.*.capacity",
		"data.stations.*.station_id",
		"last_updated_other",
		"ttl",
	}, paths)
}

func TestStationInformation_AliasConflict(t *testing.T) {
	v := newValidator(t, true)
	payload := testhelpers.InformationPayload(10, testhelpers.InformationStation(1, "C1"))
	payload["last_updated_other"] = 10

	_, err := v.StationInformation(testhelpers.MustJSON(t, payload))

	se := requireSchemaError(t, err)
	_, ok := findViolation(se, KindAliasConflict, "lastUpdatedOther")
	assert.True(t, ok, "want alias_conflict, got %v", se)
}

func TestStationInformation_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"not json", `{"ttl":`, KindMalformedJSON},
		{"trailing data", `{} {}`, KindMalformedJSON},
		{"array root", `[]`, KindTypeMismatch},
		{"null root", `null`, KindTypeMismatch},
	}
	v := newValidator(t, true)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.StationInformation([]byte(tt.raw))

			se := requireSchemaError(t, err)
			assert.True(t, se.Has(tt.kind), "want %s, got %v", tt.kind, se)
		})
	}
}

func TestStationStatus_EmptyObject(t *testing.T) {
	v := newValidator(t, true)

	_, err := v.StationStatus([]byte(`{}`))

	se := requireSchemaError(t, err)
	assert.Equal(t, NameStationStatus, se.Schema)
	assert.True(t, se.Has(KindMissingField))
}

func TestStationStatus_LegacyDuplicatesDiscarded(t *testing.T) {
	v := newValidator(t, true)
	station := map[string]any{
		"stationCode":               "XXXXX",
		"station_id":                1,
		"num_bikes_available":       0,
		"numBikesAvailable":         0,
		"num_bikes_available_types": []any{map[string]any{"mechanical": 0}, map[string]any{"ebike": 0}},
		"num_docks_available":       32,
		"numDocksAvailable":         32,
		"is_installed":              1,
		"is_returning":              1,
		"is_renting":                1,
		"last_reported":             1636549998,
	}
	raw := testhelpers.MustJSON(t, testhelpers.StatusPayload(0, station))

	status, err := v.StationStatus(raw)

	require.NoError(t, err)
	assert.Equal(t, int64(0), status.LastUpdatedOther)
	require.Len(t, status.Data.Stations, 1)
	got := status.Data.Stations[0]
	assert.Equal(t, "XXXXX", got.StationCode)
	require.NotNil(t, got.StationID)
	assert.Equal(t, int64(1), *got.StationID)
	assert.Equal(t, models.AvailableTypes{Mechanical: 0, Electrical: 0}, got.NumBikesAvailableTypes)
	assert.Equal(t, int64(32), got.NumDocksAvailable)
	assert.Equal(t, int64(1636549998), got.LastReported)

	out, err := json.Marshal(status)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "numBikesAvailable")
	assert.NotContains(t, string(out), "numDocksAvailable")
	assert.NotContains(t, string(out), "stationCode")
}

func TestStationStatus_OptionalStationID(t *testing.T) {
	v := newValidator(t, true)
	withNull := testhelpers.StatusStation(1, "A")
	withNull["station_id"] = nil
	absent := testhelpers.StatusStation(2, "B")
	delete(absent, "station_id")
	raw := testhelpers.MustJSON(t, testhelpers.StatusPayload(1, withNull, absent))

	status, err := v.StationStatus(raw)

	require.NoError(t, err)
	assert.Nil(t, status.Data.Stations[0].StationID)
	assert.Nil(t, status.Data.Stations[1].StationID)
}

func TestStationStatus_AvailableTypesCount(t *testing.T) {
	entries := func(n int) []any {
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			if i%2 == 0 {
				out = append(out, map[string]any{"mechanical": i})
			} else {
				out = append(out, map[string]any{"ebike": i})
			}
		}
		return out
	}
	v := newValidator(t, true)
	for _, n := range []int{0, 1, 3, 4} {
		station := testhelpers.StatusStation(1, "A")
		station["num_bikes_available_types"] = entries(n)
		raw := testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station))

		_, err := v.StationStatus(raw)

		se := requireSchemaError(t, err)
		got, ok := findViolation(se, KindAvailableTypes, "data.stations.0.num_bikes_available_types")
		require.True(t, ok, "n=%d: want available_types violation, got %v", n, se)
		assert.Equal(t, "must contain two available types", got.Message)
		assert.True(t, strings.Contains(err.Error(), "must contain two available types"))
	}
}

func TestStationStatus_AvailableTypesOrder(t *testing.T) {
	v := newValidator(t, true)
	station := testhelpers.StatusStation(1, "A")
	station["num_bikes_available_types"] = []any{
		map[string]any{"ebike": 3},
		map[string]any{"mechanical": 4},
	}

	_, err := v.StationStatus(testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station)))

	se := requireSchemaError(t, err)
	got, ok := findViolation(se, KindAvailableTypes, "data.stations.0.num_bikes_available_types.0")
	require.True(t, ok, "got %v", se)
	assert.Contains(t, got.Message, "ordered mechanical, ebike")
}

func TestStationStatus_AvailableTypesStrictness(t *testing.T) {
	station := testhelpers.StatusStation(1, "A")
	station["num_bikes_available_types"] = []any{
		map[string]any{},
		map[string]any{"ebike": 3},
	}
	raw := testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station))

	_, err := newValidator(t, true).StationStatus(raw)
	se := requireSchemaError(t, err)
	assert.True(t, se.Has(KindAvailableTypes))

	status, err := newValidator(t, false).StationStatus(raw)
	require.NoError(t, err)
	assert.Equal(t, models.AvailableTypes{Mechanical: 0, Electrical: 3}, status.Data.Stations[0].NumBikesAvailableTypes)
}

func TestStationStatus_UnknownEntryKey(t *testing.T) {
	v := newValidator(t, false)
	station := testhelpers.StatusStation(1, "A")
	station["num_bikes_available_types"] = []any{
		map[string]any{"mechanical": 1, "cargo": 2},
		map[string]any{"ebike": 3},
	}

	_, err := v.StationStatus(testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station)))

	se := requireSchemaError(t, err)
	_, ok := findViolation(se, KindUnexpectedField, "data.stations.0.num_bikes_available_types.0.cargo")
	assert.True(t, ok, "got %v", se)
}

func TestStationStatus_ReportsViolationsAcrossStations(t *testing.T) {
	v := newValidator(t, true)
	bad1 := testhelpers.StatusStation(1, "A")
	delete(bad1, "is_renting")
	bad2 := testhelpers.StatusStation(2, "B")
	bad2["unknown"] = true
	bad3 := testhelpers.StatusStation(3, "C")
	bad3["num_bikes_available_types"] = []any{map[string]any{"mechanical": 1}}
	raw := testhelpers.MustJSON(t, testhelpers.StatusPayload(1, bad1, bad2, bad3))

	_, err := v.StationStatus(raw)

	se := requireSchemaError(t, err)
	counts := se.CountByKind()
	assert.Equal(t, 1, counts[KindMissingField])
	assert.Equal(t, 1, counts[KindUnexpectedField])
	assert.Equal(t, 1, counts[KindAvailableTypes])
}

func TestStationStatus_UnknownLegacyLikeFieldRejected(t *testing.T) {
	v := newValidator(t, true)
	station := testhelpers.StatusStation(1, "A")
	station["numEbikesAvailable"] = 1

	_, err := v.StationStatus(testhelpers.MustJSON(t, testhelpers.StatusPayload(1, station)))

	se := requireSchemaError(t, err)
	_, ok := findViolation(se, KindUnexpectedField, "data.stations.0.numEbikesAvailable")
	assert.True(t, ok, "got %v", se)
}

func TestSchemaError_ErrorListsViolations(t *testing.T) {
	se := &SchemaError{Schema: "x"}
	for i := 0; i < maxListed+2; i++ {
		se.Violations = append(se.Violations, Violation{Kind: KindMissingField, Path: "f", Message: "field is required"})
	}

	msg := se.Error()

	assert.True(t, strings.HasPrefix(msg, "x: 12 violation(s)"))
	assert.Contains(t, msg, "and 2 more")
	assert.Equal(t, maxListed+2, se.CountByKind()[KindMissingField])
}
