// Package api serves the Prometheus metrics and the health of a running scan.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	apimiddleware "github.com/0xmhha/selector-scan/api/middleware"
	"github.com/0xmhha/selector-scan/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /metrics, /health, /progress and /version
type Server struct {
	config   *Config
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	version  string
	router   *chi.Mux
	server   *http.Server

	mu       sync.RWMutex
	progress types.Progress
	started  time.Time
	done     bool
}

// NewServer creates a new metrics server. gatherer is usually the registry
// the scan metrics were registered with.
func NewServer(config *Config, logger *zap.Logger, gatherer prometheus.Gatherer, version string) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		logger:   logger,
		gatherer: gatherer,
		version:  version,
		router:   chi.NewRouter(),
		started:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:           config.Addr,
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	// Recovery middleware (must be first)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.LoggerWithLevel(s.logger))
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/progress", s.handleProgress)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

// UpdateProgress records the latest scan progress; it can be passed to
// scanner.WithProgress directly.
func (s *Server) UpdateProgress(p types.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// MarkDone records that the scan has finished
func (s *Server) MarkDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ProgressResponse represents the scan progress response
type ProgressResponse struct {
	ProcessedBlocks uint64  `json:"processed_blocks"`
	TotalBlocks     uint64  `json:"total_blocks"`
	Percent         float64 `json:"percent"`
	BatchStart      uint64  `json:"batch_start"`
	BatchEnd        uint64  `json:"batch_end"`
	Done            bool    `json:"done"`
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	status := "scanning"
	if s.done {
		status = "done"
	}
	started := s.started
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(started).Round(time.Second).String(),
	})
}

// handleProgress handles the scan progress endpoint
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	p, done := s.progress, s.done
	s.mu.RUnlock()

	resp := ProgressResponse{
		ProcessedBlocks: p.ProcessedBlocks,
		TotalBlocks:     p.TotalBlocks,
		BatchStart:      p.BatchStart,
		BatchEnd:        p.BatchEnd,
		Done:            done,
	}
	if p.TotalBlocks > 0 || done {
		resp.Percent = p.Percent()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "selector-scan",
		"version": s.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start listens on the configured address and serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop is called
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting metrics server", zap.String("address", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("metrics server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
