package gps

import "time"

// Location is a WGS84 position in signed decimal degrees
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TrackPoint represents a recorded GPS fix
type TrackPoint struct {
	Location
	Elevation float64   `json:"elevation"`
	Time      time.Time `json:"time"`
	Speed     float64   `json:"speed"` // meters per second, as recorded
}

// PositionEvent is published to listeners each time the replay advances
type PositionEvent struct {
	Location   Location  `json:"location"`
	Previous   Location  `json:"previous"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"` // compass degrees, valid only if HasHeading
	HasHeading bool      `json:"has_heading"`
	Time       time.Time `json:"time"`
}
