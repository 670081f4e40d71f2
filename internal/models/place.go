package models

import "math"

// PlaceRef is a handle into the place interning arena. Zero means no
// value. Handles are stable for the lifetime of a catalog and equal
// handles imply structurally equal values.
type PlaceRef int32

// Valid reports whether the ref points at an interned value.
func (r PlaceRef) Valid() bool { return r > 0 }

// Location is a geographic coordinate attached to a photo or episode.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Placemark is a reverse-geocoded description of a Location.
type Placemark struct {
	ISOCountryCode string `json:"iso_country_code,omitempty"`
	Country        string `json:"country,omitempty"`
	State          string `json:"state,omitempty"`
	Locality       string `json:"locality,omitempty"`
	Sublocality    string `json:"sublocality,omitempty"`
	Thoroughfare   string `json:"thoroughfare,omitempty"`
}

const earthRadiusMeters = 6371000

// DistanceTo returns the great-circle distance in meters between two
// locations.
func (l Location) DistanceTo(other Location) float64 {
	lat1 := l.Latitude * math.Pi / 180
	lat2 := other.Latitude * math.Pi / 180
	dLat := (other.Latitude - l.Latitude) * math.Pi / 180
	dLng := (other.Longitude - l.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
