package track

import "time"

// Recorder appends samples to a Log and derives their distance records.
type Recorder struct {
	log      *Log
	distance DistanceFunc
	now      func() time.Time
}

// NewRecorder returns a recorder over log. A nil distance uses Planar.
func NewRecorder(log *Log, distance DistanceFunc) *Recorder {
	if distance == nil {
		distance = Planar
	}
	return &Recorder{log: log, distance: distance, now: time.Now}
}

func (r *Recorder) Log() *Log {
	return r.log
}

// Record appends the coordinate and returns its distance record.
func (r *Recorder) Record(c Coordinate, ts time.Time) DistanceRecord {
	rec, _ := r.RecordWith(c, ts, nil)
	return rec
}

// RecordWith computes the next sample and distance record and appends them
// only once commit returns nil. The log stays locked while commit runs, so
// concurrent updates to the same log are applied one at a time.
//
// A zero timestamp takes the recorder clock. A timestamp earlier than the
// previous sample is clamped to it to keep the log non-decreasing.
func (r *Recorder) RecordWith(c Coordinate, ts time.Time, commit func(Sample, DistanceRecord) error) (DistanceRecord, error) {
	if ts.IsZero() {
		ts = r.now()
	}

	r.log.mu.Lock()
	defer r.log.mu.Unlock()

	rec := DistanceRecord{Timestamp: ts}
	if n := len(r.log.samples); n > 0 {
		prev := r.log.samples[n-1]
		if ts.Before(prev.Timestamp) {
			ts = prev.Timestamp
			rec.Timestamp = ts
		}
		rec.Distance = Quantity(r.distance(prev.Coordinate, c))
	}
	sample := Sample{Coordinate: c, Timestamp: ts}

	if commit != nil {
		if err := commit(sample, rec); err != nil {
			return DistanceRecord{}, err
		}
	}

	r.log.samples = append(r.log.samples, sample)
	r.log.records = append(r.log.records, rec)
	return rec, nil
}
