// Package web exposes the running session over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradewatch/internal/session"
)

// StatusSource is the read side of a session.
type StatusSource interface {
	Snapshot() session.Status
}

// Server provides an HTTP interface for the trade session.
type Server struct {
	server    *http.Server
	source    StatusSource
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates a Server listening on port. gatherer backs /metrics.
func NewServer(port int, source StatusSource, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		source:    source,
		logger:    logger.Named("web"),
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.statusHandler)
	mux.HandleFunc("GET /api/receipt", s.receiptHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting web server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping web server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		session.Status
		StartTime string `json:"startTime"`
		Uptime    string `json:"uptime"`
	}{
		Status:    s.source.Snapshot(),
		StartTime: s.startTime.Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	s.writeJSON(w, status)
}

func (s *Server) receiptHandler(w http.ResponseWriter, r *http.Request) {
	st := s.source.Snapshot()
	if st.Receipt == nil {
		http.Error(w, "no resolved trade", http.StatusNotFound)
		return
	}
	s.writeJSON(w, st.Receipt)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
