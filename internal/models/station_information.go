package models

// StationInformation is the validated station_information payload.
type StationInformation struct {
	LastUpdatedOther int64           `json:"last_updated_other"`
	TTL              int64           `json:"ttl"`
	Data             InformationData `json:"data"`
}

// InformationData wraps the station list of a StationInformation payload.
type InformationData struct {
	Stations []StationInfoRecord `json:"stations"`
}

// StationInfoRecord describes a docking station. StationID is unique within a payload.
type StationInfoRecord struct {
	StationID     int64    `json:"station_id"`
	Name          string   `json:"name"`
	Lat           float64  `json:"lat"`
	Lon           float64  `json:"lon"`
	Capacity      int64    `json:"capacity"`
	StationCode   string   `json:"station_code"`
	RentalMethods []string `json:"rental_methods"`
}

// Details returns the record without its station_id, the value side of the station index.
func (r StationInfoRecord) Details() StationDetails {
	return StationDetails{
		Name:          r.Name,
		Lat:           r.Lat,
		Lon:           r.Lon,
		Capacity:      r.Capacity,
		StationCode:   r.StationCode,
		RentalMethods: r.RentalMethods,
	}
}

// StationDetails is a StationInfoRecord minus the join key.
type StationDetails struct {
	Name          string
	Lat           float64
	Lon           float64
	Capacity      int64
	StationCode   string
	RentalMethods []string
}
