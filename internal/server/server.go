// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/reideval/reid-eval/internal/bus"
	"github.com/reideval/reid-eval/internal/config"
	"github.com/reideval/reid-eval/internal/evaluation"
	"github.com/reideval/reid-eval/internal/metrics"
	"github.com/reideval/reid-eval/internal/pkg/logger"
	"github.com/reideval/reid-eval/internal/pkg/middleware"
)

// Server is the evaluation HTTP server.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server

	// Services
	bus       bus.Bus
	history   metrics.History
	metrics   *metrics.Metrics
	evaluator *evaluation.Evaluator
	limiter   *middleware.RateLimiter

	// Handlers
	evalHandler   *evaluation.Handler
	healthHandler *HealthHandler
	handler       http.Handler

	mu      sync.Mutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// RequestTimeout bounds each request context. Zero disables it.
	RequestTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Minute,
		RequestTimeout:  5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom returns DefaultConfig with the application's bind address.
func ConfigFrom(app config.ServerConfig, version string) Config {
	cfg := DefaultConfig()
	if app.Host != "" {
		cfg.Host = app.Host
	}
	if app.Port != 0 {
		cfg.Port = app.Port
	}
	if version != "" {
		cfg.Version = version
	}
	return cfg
}

// New creates a new server with all dependencies.
func New(cfg Config, appCfg config.Config, log *logger.Logger) (*Server, error) {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
	}

	b, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	s.bus = bus.NewInstrumentedBus(b, s.metrics)

	history, err := metrics.NewHistory(
		appCfg.History.Type,
		appCfg.History.RedisURL,
		time.Duration(appCfg.History.TTLHours)*time.Hour,
	)
	if err != nil {
		s.bus.Close()
		return nil, fmt.Errorf("failed to create run history: %w", err)
	}
	s.history = history

	s.evaluator = evaluation.NewEvaluator(evaluation.ConfigFrom(appCfg.Eval), log).
		WithMetrics(s.metrics).
		WithPublisher(s.bus)
	if history != nil {
		s.evaluator.WithHistory(history)
	}

	s.evalHandler = evaluation.NewHandler(s.evaluator).
		WithMaxBody(int64(appCfg.Server.MaxBodyMB) << 20)
	s.healthHandler = NewHealthHandler(NewHealthChecker(appCfg.Bus.Type, s.bus, history), cfg.Version)

	if appCfg.Server.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfigFor(appCfg.Server.RateLimit))
	}

	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's metrics registry.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
	return srv.ListenAndServe()
}

// Stop gracefully stops the server and closes its services.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info("Shutting down server...")

	if s.started && s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Warn("Closing run history failed", "error", err)
		}
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.Warn("Closing event bus failed", "error", err)
		}
	}

	s.started = false
	s.log.Info("Server stopped")

	return nil
}

// setupRoutes configures all HTTP routes and wraps them in middleware.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics endpoints
	s.healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Evaluation endpoints
	s.evalHandler.RegisterRoutes(mux)

	mws := []middleware.Middleware{
		middleware.Recovery(s.log),
		middleware.RequestID,
		middleware.Logging(s.log),
		middleware.CORS,
	}
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware)
	}
	mws = append(mws, middleware.Timeout(s.cfg.RequestTimeout), ResponseWrapperMiddleware)

	return middleware.Chain(mux, mws...)
}

