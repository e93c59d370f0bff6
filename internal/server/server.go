package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/moneyledger/internal/balance"
	"github.com/congo-pay/moneyledger/internal/config"
	"github.com/congo-pay/moneyledger/internal/middleware"
	"github.com/congo-pay/moneyledger/internal/routes"
)

// Server wraps the Fiber application, the background sweep and shared dependencies.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	logger   *slog.Logger

	stopWorker context.CancelFunc
	workerDone chan struct{}
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	services, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, services: services, logger: logger}, nil
}

// App exposes the Fiber application for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// StartSweeper runs the scheduled balance sweep until Shutdown. It is a
// no-op when SWEEP_INTERVAL is zero.
func (s *Server) StartSweeper(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 || s.stopWorker != nil {
		return
	}
	ctx, s.stopWorker = context.WithCancel(ctx)
	s.workerDone = make(chan struct{})
	worker := balance.NewWorker(s.services.Sweeper, s.cfg.SweepInterval, s.logger)
	go func() {
		defer close(s.workerDone)
		worker.Run(ctx)
	}()
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the sweep worker and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopWorker != nil {
		s.stopWorker()
		select {
		case <-s.workerDone:
		case <-ctx.Done():
		}
	}
	return s.app.ShutdownWithContext(ctx)
}
