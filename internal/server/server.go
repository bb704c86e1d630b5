package server

import (
	"log/slog"

	"backend-findme/internal/auth"
	"backend-findme/internal/config"
	"backend-findme/internal/db"
	"backend-findme/internal/observability"
	"backend-findme/internal/stream"
	"backend-findme/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Service
	Log      *slog.Logger
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	log := observability.NewLogger(cfg.LogLevel)

	// a nil pool must stay a nil interface so the service runs memory-only
	var querier db.Querier
	if pg != nil {
		querier = pg
	}

	hub := stream.NewHub(redisClient).WithLogger(log)
	svc := tracking.NewService(querier, hub).WithLogger(log)
	if cfg.DistanceMode != "" {
		if err := svc.SetDistanceMode(cfg.DistanceMode); err != nil {
			log.Warn("ignoring distance mode", "mode", cfg.DistanceMode, "error", err)
		}
	}

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       pg,
		Redis:    redisClient,
		Stream:   hub,
		Tracking: svc,
		Log:      log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", observability.MetricsHandler())

	tokens := auth.NewService(s.Cfg.JWTSecret, s.Cfg.SessionTokenTTL)
	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), tokens)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, tokens, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.Tracking, auth.OptionalJWT(s.Cfg.JWTSecret))
}

// Close stops the stream relay. The pool and redis client belong to the caller.
func (s *Server) Close() error {
	return s.Stream.Close()
}
