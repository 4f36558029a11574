package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/adpulse/internal/config"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
	registry *prometheus.Registry
}

// NewServer creates a new API server. The returned server owns the
// Prometheus registry; wire Metrics() into the collector before starting it.
func NewServer(cfg config.ServerConfig, reader MetricReader, collector CollectionService, tenants TenantDirectory, archive ArchiveIndex, platforms []string, retentionMonths int) *Server {
	handlers := NewHandlers(reader, collector, tenants, archive, platforms, retentionMonths)
	registry := prometheus.NewRegistry()
	router := SetupRoutes(handlers, registry)

	return &Server{
		config:   cfg,
		handler:  router,
		handlers: handlers,
		router:   router,
		registry: registry,
	}
}

// Metrics returns the collection metrics hook backed by this server's
// /metrics endpoint.
func (s *Server) Metrics() *PromMetrics {
	return NewPromMetrics(s.registry)
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Manual backfills can hold the connection while a range of
		// periods is collected synchronously.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
