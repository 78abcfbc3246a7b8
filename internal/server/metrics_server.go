package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/health"
	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TopologySource exposes the latest ring snapshot
type TopologySource interface {
	Topology() *model.Topology
}

// MetricsServer serves Prometheus metrics, probes and the ring topology via HTTP
type MetricsServer struct {
	httpServer *http.Server
	router     *mux.Router
	topology   TopologySource
	health     *health.HealthChecker
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port              int
	Path              string
	RateLimitEnabled  bool
	RequestsPerSecond float64
	BurstSize         int
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, gatherer prometheus.Gatherer, topology TopologySource, hc *health.HealthChecker, logger *zap.Logger) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	router := mux.NewRouter()
	s := &MetricsServer{
		router:   router,
		topology: topology,
		health:   hc,
		logger:   logger,
	}

	router.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", hc.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", hc.ReadinessHandler).Methods(http.MethodGet)
	router.HandleFunc("/topology", s.topologyHandler).Methods(http.MethodGet)

	middlewares := []func(http.Handler) http.Handler{
		Recovery(logger),
		RequestID,
		Logging(logger),
	}
	if cfg.RateLimitEnabled {
		middlewares = append(middlewares, NewRateLimiter(cfg.RequestsPerSecond, cfg.BurstSize, logger).Limit)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Chain(middlewares...)(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start binds the port and serves in the background
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

// topologyHandler returns the current neighbour snapshot
func (s *MetricsServer) topologyHandler(w http.ResponseWriter, r *http.Request) {
	topo := s.topology.Topology()
	if topo == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "topology not published yet")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(topo.Map()); err != nil {
		s.logger.Warn("Failed to encode topology", zap.Error(err))
	}
}
