package models

import "time"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSample is a normalized position fix. Samples are immutable; a new
// fix produces a new sample, never a mutation of the previous one.
type LocationSample struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed"`
	AccuracyM  float64   `json:"accuracy"`
	HeadingDeg float64   `json:"heading,omitempty"`
	AltitudeM  float64   `json:"altitude,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

func (s LocationSample) Coordinates() Coordinates {
	return Coordinates{Lat: s.Lat, Lng: s.Lng}
}

// DriverLocation is the location-update wire payload.
type DriverLocation struct {
	DriverID   string    `json:"driverId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed"`
	HeadingDeg float64   `json:"heading"`
	AccuracyM  float64   `json:"accuracy"`
	Timestamp  time.Time `json:"timestamp"`
}
