// Package http exposes the sync engine over HTTP: webhook callbacks, sync
// state inspection, and manual run triggers.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworks/aide-sync/internal/core/ports/driven"
	"github.com/loomworks/aide-sync/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	Version   string
	JWTSecret string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	engine    driving.SyncEngine
	webhooks  driving.WebhookReceiver
	taskQueue driven.TaskQueue
	db        Pinger
	redis     Pinger // can be nil
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	engine driving.SyncEngine,
	webhooks driving.WebhookReceiver,
	taskQueue driven.TaskQueue,
	db Pinger,
	redis Pinger,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:    http.NewServeMux(),
		version:   cfg.Version,
		logger:    logger,
		engine:    engine,
		webhooks:  webhooks,
		taskQueue: taskQueue,
		db:        db,
		redis:     redis,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.buildHandler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// buildHandler configures all HTTP routes and wraps them in middleware.
func (s *Server) buildHandler(cfg Config) http.Handler {
	auth := NewAuthMiddleware(cfg.JWTSecret)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Prometheus scrape endpoint (no auth)
	s.router.Handle("GET /metrics", promhttp.Handler())

	// Webhook callbacks (public; authenticated by channel matching)
	s.router.HandleFunc("POST /webhooks/{family}", s.handleWebhook)

	// Sync endpoints (authenticated; caller identity from JWT)
	s.router.Handle("GET /api/v1/sync/{family}",
		auth.Authenticate(http.HandlerFunc(s.handleGetSyncState)))
	s.router.Handle("POST /api/v1/sync/{family}/run",
		auth.Authenticate(http.HandlerFunc(s.handleTriggerSync)))
	s.router.Handle("POST /api/v1/sync/{family}/reset",
		auth.Authenticate(http.HandlerFunc(s.handleResetSync)))

	logging := NewLoggingMiddleware(s.logger)
	recovery := NewRecoveryMiddleware(s.logger)
	return recovery.Handler(logging.Handler(s.router))
}

// Start starts the HTTP server. It blocks until the listener fails.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
