package merge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienvalera/velib-harvester/internal/models"
)

func ptr(v int64) *int64 { return &v }

func infoRecord(id int64, code string) models.StationInfoRecord {
	return models.StationInfoRecord{
		StationID:     id,
		Name:          "Station " + code,
		Lat:           48.86,
		Lon:           2.35,
		Capacity:      20,
		StationCode:   code,
		RentalMethods: []string{"CREDITCARD"},
	}
}

func statusRecord(id *int64, code string) models.StationStatusRecord {
	return models.StationStatusRecord{
		StationCode:            code,
		StationID:              id,
		NumBikesAvailable:      3,
		NumBikesAvailableTypes: models.AvailableTypes{Mechanical: 2, Electrical: 1},
		NumDocksAvailable:      17,
		IsInstalled:            1,
		IsReturning:            1,
		IsRenting:              1,
		LastReported:           1636549998,
	}
}

func TestBuildIndex(t *testing.T) {
	idx, dups := BuildIndex([]models.StationInfoRecord{infoRecord(1, "A"), infoRecord(2, "B")})

	assert.Empty(t, dups)
	require.Len(t, idx, 2)
	assert.Equal(t, "A", idx[1].StationCode)
	assert.Equal(t, infoRecord(2, "B").Details(), idx[2])
}

func TestBuildIndex_Empty(t *testing.T) {
	idx, dups := BuildIndex(nil)

	assert.Empty(t, idx)
	assert.Empty(t, dups)
}

func TestBuildIndex_DuplicateLastWins(t *testing.T) {
	idx, dups := BuildIndex([]models.StationInfoRecord{
		infoRecord(1, "first"),
		infoRecord(2, "B"),
		infoRecord(1, "second"),
		infoRecord(1, "third"),
	})

	require.Len(t, idx, 2)
	assert.Equal(t, "third", idx[1].StationCode)
	assert.Equal(t, []Duplicate{
		{StationID: 1, Kept: 2, Dropped: 0},
		{StationID: 1, Kept: 3, Dropped: 2},
	}, dups)
}

func TestMerge_MatchedRecordCarriesBothSides(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(1, "C1")})
	status := models.StationStatus{
		LastUpdatedOther: 200,
		TTL:              60,
		Data:             models.StatusData{Stations: []models.StationStatusRecord{statusRecord(ptr(1), "C1")}},
	}

	snap, report := Merge(idx, status)

	assert.Equal(t, int64(200), snap.LastUpdatedOther)
	assert.Equal(t, int64(60), snap.TTL)
	require.Len(t, snap.Data.Stations, 1)
	got := snap.Data.Stations[0]
	require.NotNil(t, got.Info)
	assert.Equal(t, "Station C1", got.Info.Name)
	assert.Equal(t, int64(3), got.NumBikesAvailable)
	assert.Equal(t, 1, report.Matched)
	assert.Empty(t, report.JoinMisses)
	assert.Empty(t, report.CodeMismatches)
}

func TestMerge_JoinMissKeepsStatusFieldsOnly(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(2, "C2")})
	status := models.StationStatus{
		LastUpdatedOther: 100,
		Data:             models.StatusData{Stations: []models.StationStatusRecord{statusRecord(ptr(1), "C1")}},
	}

	snap, report := Merge(idx, status)

	require.Len(t, snap.Data.Stations, 1)
	assert.Nil(t, snap.Data.Stations[0].Info)
	assert.Equal(t, 0, report.Matched)
	require.Len(t, report.JoinMisses, 1)
	miss := report.JoinMisses[0]
	require.NotNil(t, miss.StationID)
	assert.Equal(t, int64(1), *miss.StationID)
	assert.Equal(t, "C1", miss.StationCode)
	assert.Contains(t, miss.Error(), "station_id 1")

	raw, err := json.Marshal(snap.Data.Stations[0])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "name")
	assert.NotContains(t, fields, "capacity")
	assert.NotContains(t, fields, "rental_methods")
	assert.Equal(t, "C1", fields["station_code"])
}

func TestMerge_StatusWithoutStationID(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(1, "C1")})
	status := models.StationStatus{
		Data: models.StatusData{Stations: []models.StationStatusRecord{
			statusRecord(ptr(1), "C1"),
			statusRecord(nil, "C9"),
		}},
	}

	snap, report := Merge(idx, status)

	require.Len(t, snap.Data.Stations, 2)
	require.Len(t, report.JoinMisses, 1)
	assert.Nil(t, report.JoinMisses[0].StationID)
	assert.Equal(t, 1, report.JoinMisses[0].Position)
	assert.Contains(t, report.JoinMisses[0].Error(), "no station_id")
}

func TestMerge_PreservesStatusOrder(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(1, "A"), infoRecord(2, "B"), infoRecord(3, "C")})
	status := models.StationStatus{
		Data: models.StatusData{Stations: []models.StationStatusRecord{
			statusRecord(ptr(3), "C"),
			statusRecord(ptr(1), "A"),
			statusRecord(ptr(2), "B"),
		}},
	}

	snap, _ := Merge(idx, status)

	var codes []string
	for _, s := range snap.Data.Stations {
		codes = append(codes, s.StationCode)
	}
	assert.Equal(t, []string{"C", "A", "B"}, codes)
}

func TestMerge_InformationStationCodeWins(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(1, "INFO")})
	status := models.StationStatus{
		Data: models.StatusData{Stations: []models.StationStatusRecord{statusRecord(ptr(1), "STATUS")}},
	}

	snap, report := Merge(idx, status)

	require.Len(t, report.CodeMismatches, 1)
	assert.Equal(t, CodeMismatch{StationID: 1, StatusCode: "STATUS", InformationCode: "INFO"}, report.CodeMismatches[0])

	raw, err := json.Marshal(snap.Data.Stations[0])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "INFO", fields["station_code"])
}

func TestMerge_DoesNotShareIndexValues(t *testing.T) {
	idx, _ := BuildIndex([]models.StationInfoRecord{infoRecord(1, "A")})
	status := models.StationStatus{
		Data: models.StatusData{Stations: []models.StationStatusRecord{
			statusRecord(ptr(1), "A"),
			statusRecord(ptr(1), "A"),
		}},
	}

	snap, _ := Merge(idx, status)
	snap.Data.Stations[0].Info.Name = "changed"

	assert.Equal(t, "Station A", snap.Data.Stations[1].Info.Name)
	assert.Equal(t, "Station A", idx[1].Name)
}
