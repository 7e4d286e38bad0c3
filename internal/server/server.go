// Package server exposes the agent's read-only HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
	"github.com/sajjadsiam/kalki-protocol/internal/server/handler"
	"github.com/sajjadsiam/kalki-protocol/internal/server/middleware"
	"github.com/sajjadsiam/kalki-protocol/internal/server/ws"
)

const healthPath = "/api/health"

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects every route except the health check. Empty disables
	// authentication.
	APIKey string
	// Limiter, when set, allows RateLimit requests per minute per client.
	Limiter   domain.RateLimiter
	RateLimit int
}

// Handlers groups the route handlers. Hub may be nil.
type Handlers struct {
	Health      *handler.HealthHandler
	Jobs        *handler.JobsHandler
	Resolutions *handler.ResolutionHandler
	Agent       *handler.AgentHandler
	Hub         *ws.Hub
}

// Server is the agent's HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and builds the middleware chain
// (CORS, then logging, then rate limit, then auth).
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           newRouter(cfg, h, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func newRouter(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, h.Health.HealthCheck)
	mux.HandleFunc("GET /api/jobs", h.Jobs.ListActive)
	mux.HandleFunc("GET /api/resolutions", h.Resolutions.List)
	mux.HandleFunc("GET /api/resolutions/{id}", h.Resolutions.Get)
	mux.HandleFunc("GET /api/resolutions/{id}/evidence", h.Resolutions.Evidence)
	mux.HandleFunc("GET /api/agent/stats", h.Agent.Stats)
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, healthPath)(chain)
	if cfg.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	return chain
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
