// Package api serves the blade HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/blade/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/blade/pkg/observability"
)

// Server is the HTTP API server.
type Server struct {
	mux     *http.ServeMux
	server  *http.Server
	logger  *slog.Logger
	handler *Handler
	health  *observability.HealthRegistry
	metrics *metrics.Metrics
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the default server configuration. The write
// timeout covers a full events sync.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new API server. health and m may be nil.
func NewServer(cfg ServerConfig, handler *Handler, health *observability.HealthRegistry, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		logger:  logger,
		handler: handler,
		health:  health,
		metrics: m,
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// OAuth
	s.mux.HandleFunc("GET /auth/callback", s.handler.AuthCallback)

	// Calendar
	s.mux.HandleFunc("POST /calendar/sync", s.handler.SyncBusy)
	s.mux.HandleFunc("POST /calendar/events/sync", s.handler.SyncEvents)
	s.mux.HandleFunc("POST /calendar/disconnect", s.handler.Disconnect)

	// Users
	s.mux.HandleFunc("POST /users", s.handler.RegisterUser)
	s.mux.HandleFunc("GET /users/{email}", s.handler.GetUser)

	// Busy blocks
	s.mux.HandleFunc("POST /busy", s.handler.CreateBusy)
	s.mux.HandleFunc("GET /busy", s.handler.ListBusy)
	s.mux.HandleFunc("DELETE /busy/{id}", s.handler.DeleteBusy)
}

// Handler returns the routed handler wrapped in request-id and metrics middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.metrics.Middleware(h)
	h = s.logRequests(h)
	return observability.RequestID(h)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.DebugContext(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// handleHealth reports component health, or a static status without a registry.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.Handler().ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Log error but can't do much at this point
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}
