// Package track holds the track log of a tracking session and the
// distance/speed summary derived from it.
package track

import (
	"math"
	"sync"
	"time"
)

// Coordinate is a longitude/latitude pair in degrees.
type Coordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Sample is one observed position. Samples are immutable once appended.
type Sample struct {
	Coordinate
	Timestamp time.Time `json:"timestamp"`
}

// DistanceRecord is the incremental distance from the previous sample.
// The first sample of a log always carries a zero distance.
type DistanceRecord struct {
	Distance  Quantity  `json:"distance"`
	Timestamp time.Time `json:"timestamp"`
}

// DistanceFunc measures the distance between two consecutive samples.
type DistanceFunc func(from, to Coordinate) float64

// Planar is the Euclidean distance over the raw lon/lat pair. It is not a
// geodesic distance and is only meaningful near the equator or over short spans.
func Planar(from, to Coordinate) float64 {
	return math.Hypot(to.Lng-from.Lng, to.Lat-from.Lat)
}

// Log is an append-only, chronologically ordered track log.
type Log struct {
	mu      sync.RWMutex
	samples []Sample
	records []DistanceRecord
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}

// Samples returns a copy of the samples in arrival order.
func (l *Log) Samples() []Sample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Sample, len(l.samples))
	copy(out, l.samples)
	return out
}

// Records returns a copy of the distance records in arrival order.
func (l *Log) Records() []DistanceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]DistanceRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Last() (Sample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.samples) == 0 {
		return Sample{}, false
	}
	return l.samples[len(l.samples)-1], true
}

// Summarize runs Summarize over a snapshot of the log.
func (l *Log) Summarize() (Summary, error) {
	return Summarize(l.Records())
}
