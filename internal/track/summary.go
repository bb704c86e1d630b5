package track

import (
	"errors"
	"math"
	"strconv"
	"time"
)

var ErrInsufficientData = errors.New("track: insufficient data, need at least two samples")

// Quantity is a measured value that encodes NaN and infinities as JSON null.
type Quantity float64

func (q Quantity) Valid() bool {
	f := float64(q)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(q), 'g', -1, 64), nil
}

// Speed is a per-segment or average speed. Defined is false when it
// cannot be computed, e.g. two samples sharing a timestamp.
type Speed struct {
	Value   float64
	Defined bool
}

func (s Speed) MarshalJSON() ([]byte, error) {
	if !s.Defined {
		return []byte("null"), nil
	}
	return Quantity(s.Value).MarshalJSON()
}

type SegmentSpeed struct {
	Index    int      `json:"index"`
	Distance Quantity `json:"distance"`
	Seconds  float64  `json:"elapsed_seconds"`
	Speed    Speed    `json:"speed"`
}

type Summary struct {
	SampleCount       int            `json:"sample_count"`
	TotalDistance     Quantity       `json:"total_distance"`
	AverageSpeed      Speed          `json:"average_speed"`
	UndefinedSegments int            `json:"undefined_segments"`
	Segments          []SegmentSpeed `json:"segments"`
}

// Summarize totals the distance records and averages the per-segment
// speeds. The average is the mean of segment speeds, not total distance
// over total time: the first record adds a zero-speed placeholder to the
// mean and segments with no elapsed time are left out of it.
func Summarize(records []DistanceRecord) (Summary, error) {
	if len(records) <= 1 {
		return Summary{}, ErrInsufficientData
	}

	s := Summary{
		SampleCount: len(records),
		Segments:    make([]SegmentSpeed, 0, len(records)-1),
	}

	var total, speedSum float64
	speedCount := 1 // zero-speed placeholder for the first record
	definedSegments := 0

	total += float64(records[0].Distance)
	for i := 1; i < len(records); i++ {
		d := float64(records[i].Distance)
		total += d

		elapsed := elapsedSeconds(records[i].Timestamp, records[i-1].Timestamp)
		seg := SegmentSpeed{Index: i, Distance: records[i].Distance, Seconds: elapsed}
		if elapsed > 0 {
			v := d / elapsed
			if Quantity(v).Valid() {
				seg.Speed = Speed{Value: v, Defined: true}
				speedSum += v
				speedCount++
				definedSegments++
			}
		}
		if !seg.Speed.Defined {
			s.UndefinedSegments++
		}
		s.Segments = append(s.Segments, seg)
	}

	s.TotalDistance = Quantity(total)
	if definedSegments > 0 {
		s.AverageSpeed = Speed{Value: speedSum / float64(speedCount), Defined: true}
	}
	return s, nil
}

func elapsedSeconds(later, earlier time.Time) float64 {
	return later.Sub(earlier).Seconds()
}
