package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_sessions_started_total",
		Help: "Tracking sessions started",
	})
	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_sessions_ended_total",
		Help: "Tracking sessions ended",
	})
	PositionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_positions_recorded_total",
		Help: "Position samples appended to a track log",
	})
	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_persist_errors_total",
		Help: "Failed writes to postgres",
	})
	HeadingUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_heading_updates_total",
		Help: "Compass heading updates received",
	})
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "findme_source_errors_total",
		Help: "Geolocation and orientation errors reported by devices",
	}, []string{"source", "code"})
	Summaries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_summaries_total",
		Help: "Summaries computed",
	})
	UndefinedSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_undefined_speed_segments_total",
		Help: "Segments whose speed was undefined because no time elapsed",
	})
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "findme_stream_clients",
		Help: "Connected stream subscribers",
	})
	RelayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "findme_redis_relay_errors_total",
		Help: "Errors publishing events to redis",
	})
)

// MetricsHandler serves the default prometheus registry.
func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
