package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"backend-findme/internal/db"
	"backend-findme/internal/observability"
	"backend-findme/internal/shared/geo"
	"backend-findme/internal/stream"
	"backend-findme/internal/track"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	accuracyVertices = 32
	locateMaxZoom    = 18
	locateDurationMs = 500
)

type Service struct {
	db   db.Querier
	hub  *stream.Hub
	log  *slog.Logger
	mode string
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
	ended    map[string]Session
}

// sessionState is the lifetime of one session's track log: created by
// StartSession (or rehydrated), dropped by EndSession.
type sessionState struct {
	mu       sync.Mutex
	session  Session
	recorder *track.Recorder
	points   []TrackPoint
	lastFix  *Fix
	heading  *Heading
}

// NewService returns a service persisting to db. A nil db keeps sessions
// in memory only; a nil hub publishes nothing.
func NewService(db db.Querier, hub *stream.Hub) *Service {
	return &Service{
		db:       db,
		hub:      hub,
		log:      slog.Default(),
		mode:     ModePlanar,
		now:      time.Now,
		sessions: map[string]*sessionState{},
		ended:    map[string]Session{},
	}
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

// SetDistanceMode sets the mode new sessions are started with.
func (s *Service) SetDistanceMode(mode string) error {
	if _, err := distanceFunc(mode); err != nil {
		return err
	}
	s.mode = mode
	return nil
}

func distanceFunc(mode string) (track.DistanceFunc, error) {
	switch mode {
	case ModePlanar:
		return track.Planar, nil
	case ModeHaversine:
		return func(from, to track.Coordinate) float64 {
			return geo.HaversineM(from.Lat, from.Lng, to.Lat, to.Lng)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistanceMode, mode)
	}
}

func newSessionState(session Session) (*sessionState, error) {
	distance, err := distanceFunc(session.DistanceMode)
	if err != nil {
		return nil, err
	}
	return &sessionState{
		session:  session,
		recorder: track.NewRecorder(track.NewLog(), distance),
	}, nil
}

func (s *Service) StartSession(ctx context.Context, input Session) (Session, error) {
	input.ID = uuid.NewString()
	if input.StartedAt.IsZero() {
		input.StartedAt = s.now()
	}
	input.Status = StatusActive
	input.EndedAt = nil
	input.TotalDistance = 0
	if input.DistanceMode == "" {
		input.DistanceMode = s.mode
	}

	st, err := newSessionState(input)
	if err != nil {
		return Session{}, err
	}

	if s.db != nil {
		row := s.db.QueryRow(ctx, `
			INSERT INTO track_sessions (id, device_id, label, distance_mode, started_at, status)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING started_at, status
		`, input.ID, input.DeviceID, input.Label, input.DistanceMode, input.StartedAt, input.Status)
		if err := row.Scan(&input.StartedAt, &input.Status); err != nil {
			return Session{}, fmt.Errorf("insert session: %w", err)
		}
		st.session = input
	}

	s.mu.Lock()
	s.sessions[input.ID] = st
	s.mu.Unlock()

	observability.SessionsStarted.Inc()
	s.log.Info("session started", "session_id", input.ID, "device_id", input.DeviceID, "distance_mode", input.DistanceMode)
	return input, nil
}

// state returns the live state of a session, loading it from postgres when
// this instance has not seen it yet. Ended sessions are not cached.
func (s *Service) state(ctx context.Context, sessionID string) (*sessionState, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	tomb, ended := s.ended[sessionID]
	s.mu.Unlock()
	if ok {
		return st, nil
	}
	if ended {
		return newSessionState(tomb)
	}
	if s.db == nil {
		return nil, ErrSessionNotFound
	}

	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.session.Status == StatusEnded {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sessionID]; ok {
		return existing, nil
	}
	s.sessions[sessionID] = st
	return st, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*sessionState, error) {
	var session Session
	var endedAt time.Time
	row := s.db.QueryRow(ctx, `
		SELECT id, device_id, label, distance_mode, started_at, COALESCE(ended_at, started_at), COALESCE(total_distance,0), status
		FROM track_sessions WHERE id=$1
	`, sessionID)
	if err := row.Scan(&session.ID, &session.DeviceID, &session.Label, &session.DistanceMode, &session.StartedAt, &endedAt, &session.TotalDistance, &session.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.Status == StatusEnded {
		session.EndedAt = &endedAt
	}

	st, err := newSessionState(session)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusEnded {
		return st, nil
	}

	points, err := s.queryPoints(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		st.recorder.Record(track.Coordinate{Lng: p.Lng, Lat: p.Lat}, p.RecordedAt)
	}
	st.points = points
	if n := len(points); n > 0 {
		last := points[n-1]
		st.lastFix = &Fix{Lng: last.Lng, Lat: last.Lat, Accuracy: last.AccuracyM, Timestamp: last.RecordedAt.UnixMilli()}
	}
	return st, nil
}

// Record appends a fix to the session's track log, persists it and
// publishes it to the session's subscribers.
func (s *Service) Record(ctx context.Context, sessionID string, fix Fix) (TrackPoint, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return TrackPoint{}, err
	}
	if st.ended() {
		return TrackPoint{}, ErrSessionEnded
	}

	ts := s.now()
	if fix.Timestamp > 0 {
		ts = time.UnixMilli(fix.Timestamp)
	}

	var point TrackPoint
	_, err = st.recorder.RecordWith(track.Coordinate{Lng: fix.Lng, Lat: fix.Lat}, ts, func(sample track.Sample, rec track.DistanceRecord) error {
		point = TrackPoint{
			SessionID:     sessionID,
			Lat:           sample.Lat,
			Lng:           sample.Lng,
			AccuracyM:     fix.Accuracy,
			RecordedAt:    sample.Timestamp,
			DistanceDelta: rec.Distance,
			CreatedAt:     s.now(),
		}
		if s.db != nil {
			if err := s.insertPoint(ctx, &point); err != nil {
				return err
			}
		}

		// still under the log lock, so points and lastFix follow log order
		latest := fix
		latest.Timestamp = point.RecordedAt.UnixMilli()
		st.mu.Lock()
		st.points = append(st.points, point)
		st.lastFix = &latest
		if rec.Distance.Valid() {
			st.session.TotalDistance += float64(rec.Distance)
		}
		st.mu.Unlock()
		return nil
	})
	if err != nil {
		observability.PersistErrors.Inc()
		s.log.Error("record position failed", "session_id", sessionID, "error", err)
		return TrackPoint{}, fmt.Errorf("record position: %w", err)
	}
	observability.PositionsRecorded.Inc()

	s.publish(stream.EventPosition, sessionID, point)
	return point, nil
}

func (s *Service) insertPoint(ctx context.Context, point *TrackPoint) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO track_points (session_id, location, accuracy_m, recorded_at, distance_delta)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6)
		RETURNING id, created_at
	`, point.SessionID, point.Lng, point.Lat, point.AccuracyM, point.RecordedAt, float64(point.DistanceDelta))
	if err := row.Scan(&point.ID, &point.CreatedAt); err != nil {
		return err
	}

	if point.DistanceDelta != 0 && point.DistanceDelta.Valid() {
		_, err := s.db.Exec(ctx, `
			UPDATE track_sessions
			SET total_distance = COALESCE(total_distance,0) + $2
			WHERE id=$1
		`, point.SessionID, float64(point.DistanceDelta))
		if err != nil {
			// the in-memory log is authoritative; the stored total is a convenience
			s.log.Warn("update session total failed", "session_id", point.SessionID, "error", err)
		}
	}
	return nil
}

// Summary computes total distance and average speed over the session's
// track log. It returns track.ErrInsufficientData below two samples.
func (s *Service) Summary(ctx context.Context, sessionID string) (Summary, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if st.ended() {
		return Summary{}, ErrSessionEnded
	}

	sum, err := st.recorder.Log().Summarize()
	if err != nil {
		return Summary{}, err
	}
	observability.Summaries.Inc()
	if sum.UndefinedSegments > 0 {
		observability.UndefinedSegments.Add(float64(sum.UndefinedSegments))
		s.log.Debug("summary has undefined segments", "session_id", sessionID, "undefined", sum.UndefinedSegments)
	}

	st.mu.Lock()
	mode := st.session.DistanceMode
	st.mu.Unlock()
	return Summary{SessionID: sessionID, DistanceMode: mode, Summary: sum}, nil
}

func (s *Service) Points(ctx context.Context, sessionID string) ([]TrackPoint, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.ended() {
		return nil, ErrSessionEnded
	}
	if s.db != nil {
		return s.queryPoints(ctx, sessionID)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	points := make([]TrackPoint, len(st.points))
	copy(points, st.points)
	return points, nil
}

func (s *Service) queryPoints(ctx context.Context, sessionID string) ([]TrackPoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, ST_Y(location::geometry), ST_X(location::geometry), COALESCE(accuracy_m,0), recorded_at, COALESCE(distance_delta,0), created_at
		FROM track_points WHERE session_id=$1
		ORDER BY recorded_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TrackPoint{}
	for rows.Next() {
		var p TrackPoint
		var delta float64
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Lat, &p.Lng, &p.AccuracyM, &p.RecordedAt, &delta, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.DistanceDelta = track.Quantity(delta)
		points = append(points, p)
	}
	return points, rows.Err()
}

// Path returns the polyline through the session's samples.
func (s *Service) Path(ctx context.Context, sessionID string) (Path, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Path{}, err
	}
	if st.ended() {
		return Path{}, ErrSessionEnded
	}
	samples := st.recorder.Log().Samples()
	coords := make([][2]float64, 0, len(samples))
	for _, sm := range samples {
		coords = append(coords, [2]float64{sm.Lng, sm.Lat})
	}
	return Path{Type: "LineString", Coordinates: coords}, nil
}

// Locate returns the latest fix with its accuracy circle and the extent
// the map view should fit.
func (s *Service) Locate(ctx context.Context, sessionID string) (Locate, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Locate{}, err
	}
	if st.ended() {
		return Locate{}, ErrSessionEnded
	}
	st.mu.Lock()
	var fix Fix
	if st.lastFix != nil {
		fix = *st.lastFix
	}
	hasFix := st.lastFix != nil
	st.mu.Unlock()
	if !hasFix {
		return Locate{}, ErrNoFix
	}

	ring := geo.Circle(fix.Lat, fix.Lng, math.Max(fix.Accuracy, 0), accuracyVertices)
	return Locate{
		Position: fix,
		Accuracy: Polygon{Type: "Polygon", Coordinates: [][][2]float64{ring}},
		Extent:   geo.Extent(ring),
		Fit:      FitOptions{MaxZoom: locateMaxZoom, DurationMs: locateDurationMs},
	}, nil
}

// UpdateHeading stores a compass heading normalized into [0, 360) and the
// matching icon rotation in radians.
func (s *Service) UpdateHeading(ctx context.Context, sessionID string, degrees float64) (Heading, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return Heading{}, ErrInvalidHeading
	}
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Heading{}, err
	}
	if st.ended() {
		return Heading{}, ErrSessionEnded
	}

	h := Heading{Degrees: normalizeDegrees(degrees), At: s.now()}
	h.Rotation = h.Degrees * math.Pi / 180

	st.mu.Lock()
	st.heading = &h
	st.mu.Unlock()

	observability.HeadingUpdates.Inc()
	s.publish(stream.EventHeading, sessionID, h)
	return h, nil
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// ReportError surfaces a geolocation or orientation failure to everyone
// watching the session. Recording is not stopped.
func (s *Service) ReportError(ctx context.Context, sessionID string, e SourceError) (SourceError, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return SourceError{}, err
	}
	if st.ended() {
		return SourceError{}, ErrSessionEnded
	}

	e.Source = strings.ToLower(strings.TrimSpace(e.Source))
	if e.Source == "" {
		e.Source = "geolocation"
	}
	e.Code = strings.ToLower(strings.TrimSpace(e.Code))
	if e.Code == "" {
		e.Code = "unknown"
	}
	if e.Message == "" {
		e.Message = strings.ReplaceAll(e.Code, "_", " ")
	}
	e.Message = "ERROR: " + strings.TrimPrefix(e.Message, "ERROR: ")

	observability.SourceErrors.WithLabelValues(e.Source, e.Code).Inc()
	s.log.Warn("source error", "session_id", sessionID, "source", e.Source, "code", e.Code, "message", e.Message)
	s.publish(stream.EventError, sessionID, e)
	return e, nil
}

// EndSession tears the session down: the log is dropped from memory and
// all subscriptions are closed. Only the session record is kept, so later
// reads and writes get ErrSessionEnded on every instance.
func (s *Service) EndSession(ctx context.Context, sessionID string) (Session, error) {
	st, err := s.state(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if st.ended() {
		return st.snapshot(), nil
	}

	endedAt := s.now()
	if s.db != nil {
		_, err := s.db.Exec(ctx, `
			UPDATE track_sessions SET ended_at=$2, status=$3 WHERE id=$1
		`, sessionID, endedAt, StatusEnded)
		if err != nil {
			return Session{}, fmt.Errorf("end session: %w", err)
		}
	}

	st.mu.Lock()
	st.session.EndedAt = &endedAt
	st.session.Status = StatusEnded
	session := st.session
	st.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.ended[sessionID] = session
	s.mu.Unlock()

	observability.SessionsEnded.Inc()
	s.log.Info("session ended", "session_id", sessionID, "total_distance", session.TotalDistance)
	s.publish(stream.EventEnded, sessionID, session)
	if s.hub != nil {
		s.hub.CloseSession(sessionID)
	}
	return session, nil
}

func (s *Service) publish(kind, sessionID string, data any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(stream.Event{Type: kind, SessionID: sessionID, Data: data, At: s.now().UTC()}); err != nil {
		s.log.Warn("publish event failed", "session_id", sessionID, "type", kind, "error", err)
	}
}

func (st *sessionState) ended() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.Status == StatusEnded
}

func (st *sessionState) snapshot() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session
}
