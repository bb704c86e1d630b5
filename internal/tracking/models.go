package tracking

import (
	"time"

	"backend-findme/internal/track"
)

const (
	StatusActive = "active"
	StatusEnded  = "ended"

	ModePlanar    = "planar"
	ModeHaversine = "haversine"
)

type Session struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	Label         string     `json:"label"`
	DistanceMode  string     `json:"distance_mode"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalDistance float64    `json:"total_distance"`
	Status        string     `json:"status"`
}

// Fix is one geolocation update as delivered by the device. Timestamp is
// milliseconds since the Unix epoch; zero means "now".
type Fix struct {
	Lng       float64 `json:"lng"`
	Lat       float64 `json:"lat"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

type TrackPoint struct {
	ID            int64          `json:"id"`
	SessionID     string         `json:"session_id"`
	Lat           float64        `json:"lat"`
	Lng           float64        `json:"lng"`
	AccuracyM     float64        `json:"accuracy_m"`
	RecordedAt    time.Time      `json:"recorded_at"`
	DistanceDelta track.Quantity `json:"distance_delta"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Summary struct {
	SessionID    string `json:"session_id"`
	DistanceMode string `json:"distance_mode"`
	track.Summary
}

// Path is a GeoJSON LineString of the session's samples.
type Path struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

type Polygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

type FitOptions struct {
	MaxZoom    int `json:"max_zoom"`
	DurationMs int `json:"duration_ms"`
}

// Locate is what the "locate me" control fits the view to.
type Locate struct {
	Position Fix        `json:"position"`
	Accuracy Polygon    `json:"accuracy"`
	Extent   [4]float64 `json:"extent"`
	Fit      FitOptions `json:"fit"`
}

type Heading struct {
	Degrees  float64   `json:"heading"`
	Rotation float64   `json:"rotation"`
	At       time.Time `json:"at"`
}

// SourceError is a failure reported by the device's geolocation or
// orientation source.
type SourceError struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
