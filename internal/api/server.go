package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/osm-bridge/internal/entity"
	"github.com/nerrad567/osm-bridge/internal/history"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/config"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/osm-bridge/internal/mirror"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency check run by GET /health.
const healthCheckTimeout = 3 * time.Second

// Instance is the integration state served by the API.
// *integration.Instance satisfies it.
type Instance interface {
	Core() *mirror.Core
	Devices() []*mirror.Device
	Device(name string) (*mirror.Device, bool)
	Entities() []entity.Entity
	RefreshAll(ctx context.Context) error
}

// HistoryReader reads recorded snapshots. *history.Repository satisfies it.
type HistoryReader interface {
	History(ctx context.Context, mirror, kind string, limit int) ([]history.Entry, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Instance Instance

	// History serves the history endpoints. Optional; they return 503 without it.
	History HistoryReader

	// Metrics is exposed on /metrics. Optional.
	Metrics *prometheus.Registry

	// Checks are run by the health endpoint, keyed by dependency name.
	Checks map[string]HealthCheck

	Version string
}

// Server is the HTTP API server for the bridge.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	instance Instance
	history  HistoryReader
	metrics  *prometheus.Registry
	checks   map[string]HealthCheck
	version  string
	started  time.Time

	// numbers indexes writable entities by unique ID.
	numbers map[string]entity.Number

	server *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Instance == nil {
		return nil, fmt.Errorf("integration instance is required")
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		instance: deps.Instance,
		history:  deps.History,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
		version:  deps.Version,
		started:  time.Now(),
		numbers:  make(map[string]entity.Number),
	}

	for _, e := range deps.Instance.Entities() {
		if n, ok := e.(entity.Number); ok {
			s.numbers[n.UniqueID()] = n
		}
	}

	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
