// Package api serves the recorder's Prometheus metrics and a health check
// over HTTP while a session runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server exposes /metrics and /health
type Server struct {
	router    *mux.Router
	logger    *zap.Logger
	gatherer  prometheus.Gatherer
	sessionID string
	startedAt time.Time
}

// NewServer creates a new metrics HTTP server for the registry gatherer
func NewServer(logger *zap.Logger, gatherer prometheus.Gatherer, sessionID string) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger.With(zap.String("component", "api")),
		gatherer:  gatherer,
		sessionID: sessionID,
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
}

type healthResponse struct {
	Status    string  `json:"status"`
	SessionID string  `json:"session_id"`
	Uptime    float64 `json:"uptime_seconds"`
	Timestamp string  `json:"timestamp"`
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		SessionID: s.sessionID,
		Uptime:    time.Since(s.startedAt).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("Failed to encode health response", zap.Error(err))
	}
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartWithContext serves on address until ctx is cancelled
func (s *Server) StartWithContext(ctx context.Context, address string) error {
	s.logger.Info("Starting metrics HTTP server", zap.String("address", address))

	server := &http.Server{
		Addr:         address,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", zap.Error(err))
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("Server shutdown completed")
	return nil
}
