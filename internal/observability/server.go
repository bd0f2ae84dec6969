// Package observability provides the HTTP server for health checks and
// Prometheus metrics endpoints.
//
// # Endpoints
//
//   - GET /healthz: Health check endpoint. Returns 200 while the process is
//     running.
//
//   - GET /readyz: Readiness check endpoint. Returns 200 once the MCP server
//     has been constructed and its transport is being served.
//
//   - GET /metrics: Prometheus metrics in text exposition format. Includes
//     both Go runtime metrics and the server metrics below.
//
// # Custom Metrics
//
//	┌────────────────────────────────────────┬─────────┬───────────────────────────────────────┐
//	│ Metric Name                            │ Type    │ Description                           │
//	├────────────────────────────────────────┼─────────┼───────────────────────────────────────┤
//	│ casemcp_operations_total               │ Counter │ Tool/resource invocations by outcome  │
//	│ casemcp_operation_duration_seconds     │ Hist    │ Invocation duration                   │
//	│ casemcp_sn_api_requests_total          │ Counter │ Total ServiceNow API requests         │
//	│ casemcp_sn_api_errors_total            │ Counter │ ServiceNow API errors (by code)       │
//	│ casemcp_sn_api_latency_seconds         │ Hist    │ ServiceNow API response latency       │
//	│ casemcp_events_published_total         │ Counter │ Case events produced to Kafka         │
//	│ casemcp_events_errors_total            │ Counter │ Case event publish failures           │
//	└────────────────────────────────────────┴─────────┴───────────────────────────────────────┘
//
// # Usage
//
//	srv := observability.NewServer(":8080", logger)
//	go srv.Start(ctx)
//	// When ready:
//	srv.SetReady(true)
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ----- Prometheus Metrics -----

// Metrics holds all Prometheus metrics used by the server.
// Using promauto for automatic registration with the default registry.
var Metrics = struct {
	// MCP operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// ServiceNow API metrics
	SNAPIRequestsTotal *prometheus.CounterVec
	SNAPIErrorsTotal   *prometheus.CounterVec
	SNAPILatency       *prometheus.HistogramVec

	// Case event metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsErrorsTotal    *prometheus.CounterVec
}{
	OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casemcp_operations_total",
		Help: "Total number of MCP tool and resource invocations.",
	}, []string{"name", "kind", "outcome"}),

	OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casemcp_operation_duration_seconds",
		Help:    "Duration of MCP tool and resource invocations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"name", "kind"}),

	SNAPIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casemcp_sn_api_requests_total",
		Help: "Total number of ServiceNow API requests.",
	}, []string{"method", "endpoint"}),

	SNAPIErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casemcp_sn_api_errors_total",
		Help: "Total number of ServiceNow API errors by status code.",
	}, []string{"method", "status_code"}),

	SNAPILatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casemcp_sn_api_latency_seconds",
		Help:    "ServiceNow API response latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "endpoint"}),

	EventsPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casemcp_events_published_total",
		Help: "Total number of case change events produced to Kafka.",
	}, []string{"topic", "action"}),

	EventsErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casemcp_events_errors_total",
		Help: "Total number of case change events that failed to publish.",
	}, []string{"topic", "error_type"}),
}

// ----- Health/Readiness Server -----

// Server provides HTTP endpoints for health checks, readiness probes,
// and Prometheus metrics.
type Server struct {
	addr   string
	ready  atomic.Bool
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new observability HTTP server.
func NewServer(addr string, logger *slog.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.With("component", "observability"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins listening for HTTP requests. Blocks until the context is
// cancelled, then gracefully shuts down the server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("observability server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down observability server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// SetReady marks the server as ready (or not ready) for readiness probes.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.logger.Info("readiness state changed", "ready", ready)
}

// handleHealth responds with 200 OK: the process is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy"}`)
}

// handleReady responds with 200 if ready, 503 if not yet ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ready"}`)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, `{"status":"not_ready"}`)
	}
}
