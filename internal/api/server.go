package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidemark-io/tidemark/internal/pipeline"
)

// HealthChecker reports whether the warehouse is reachable. Implemented by
// storage.Connection.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the operational HTTP server. It never serves warehouse data;
// the mart is consumed by downstream tools directly.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	health     HealthChecker
	startTime  time.Time

	mu      sync.RWMutex
	lastRun *pipeline.Summary
}

// NewServer creates the ops server. The health checker is injected
// explicitly; pass the storage connection.
func NewServer(cfg *ServerConfig, health HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		logger: logger,
		config: cfg,
		health: health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.HandleFunc("GET /api/v1/runs/latest", server.handleLatestRun)
	mux.Handle("GET /metrics", promhttp.Handler())

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// RecordRun stores the most recent run summary for the latest-run endpoint.
func (s *Server) RecordRun(summary pipeline.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRun = &summary
}

// Start starts the HTTP server and blocks until the context is canceled or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting ops server",
			slog.String("address", s.config.Address()))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("ops server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

// shutdown gracefully drains in-flight requests.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down ops server",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK

	if err := s.health.HealthCheck(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	lastRun := s.lastRun
	s.mu.RUnlock()

	if lastRun == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs completed yet"})

		return
	}

	writeJSON(w, http.StatusOK, lastRun)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
