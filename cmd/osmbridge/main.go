// OSM Bridge - Open Surplus Manager for Home Assistant
//
// This is the main entry point for the bridge daemon. It mirrors the state of
// an Open Surplus Manager instance and exposes it to Home Assistant through
// MQTT discovery:
//   - One sensor, two binary sensors and three numbers per OSM device
//   - One sensor and three numbers for the core state
//   - Setter commands forwarded from Home Assistant to OSM
//
// Optional sinks record every change: SQLite history, InfluxDB points and
// Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/osm-bridge/internal/api"
	"github.com/nerrad567/osm-bridge/internal/bridges/homeassistant"
	"github.com/nerrad567/osm-bridge/internal/history"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/config"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/database"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/osm-bridge/internal/integration"
	"github.com/nerrad567/osm-bridge/internal/metrics"
	"github.com/nerrad567/osm-bridge/internal/osm"
	"github.com/nerrad567/osm-bridge/internal/telemetry"
	"github.com/nerrad567/osm-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often old snapshot history is deleted.
const pruneInterval = time.Hour

// setupLock serialises integration setups within the process.
var setupLock = semaphore.NewWeighted(1)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting OSM bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := history.NewRepository(db.DB)

	// Connect to MQTT broker
	topics := mqtt.NewTopics(cfg.HomeAssistant)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	collector := metrics.NewCollector()
	recorder := telemetry.NewRecorder(telemetryConfig(collector, historyRepo, influxClient, log))

	// Set up the integration
	osmClient, err := osm.NewClient(osm.Config{
		BaseURL: config.NormaliseHost(cfg.OSM.Host),
		Timeout: cfg.GetOSMTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating OSM client: %w", err)
	}
	inst, err := integration.Setup(ctx, osmClient, integration.Options{
		Lock:          setupLock,
		Observer:      recorder,
		ReadyInterval: cfg.GetReadyInterval(),
		MaxConcurrent: cfg.Poll.MaxConcurrent,
		Logger:        log.Component("integration"),
	})
	if err != nil {
		//nolint:errcheck // Setup failed; the client is not owned by an instance
		osmClient.Close()
		if errors.Is(err, integration.ErrUnhealthy) {
			return fmt.Errorf("OSM at %s is not healthy: %w", cfg.OSM.Host, err)
		}
		return fmt.Errorf("setting up integration: %w", err)
	}
	defer func() {
		log.Info("unloading integration")
		if unloadErr := inst.Unload(); unloadErr != nil {
			log.Error("error unloading integration", "error", unloadErr)
		}
	}()

	// Start Home Assistant bridge
	bridge, err := homeassistant.NewBridge(homeassistant.BridgeOptions{
		MQTTClient:     mqttClient,
		Topics:         topics,
		Entities:       inst.Entities(),
		PollInterval:   cfg.GetPollInterval(),
		HealthInterval: cfg.GetHealthInterval(),
		Version:        version,
		OSMHost:        cfg.OSM.Host,
		Logger:         log.Component("homeassistant"),
	})
	if err != nil {
		return fmt.Errorf("creating Home Assistant bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting Home Assistant bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Home Assistant bridge")
		bridge.Stop()
	}()
	log.Info("Home Assistant bridge started", "entities", len(inst.Entities()))

	// Republish everything after a broker reconnect; retained state may be gone.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, resyncing Home Assistant")
		bridge.Resync()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Start API server (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.Component("api"),
			Instance: inst,
			History:  historyRepo,
			Metrics:  metrics.Registry(collector),
			Checks:   healthChecks(db, mqttClient, influxClient),
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		go pruneLoop(ctx, historyRepo, retention, log)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, integration,
	// InfluxDB, MQTT, database.

	log.Info("OSM bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses OSMBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OSMBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// telemetryConfig wires the recorder sinks, leaving Points nil when InfluxDB is disabled.
func telemetryConfig(collector *metrics.Collector, repo *history.Repository, influx *influxdb.Client, log *logging.Logger) telemetry.Config {
	cfg := telemetry.Config{
		Metrics: collector,
		History: repo,
		Logger:  log,
	}
	if influx != nil {
		cfg.Points = influx
	}
	return cfg
}

// healthChecks returns the dependency checks served by the API health endpoint.
func healthChecks(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient.HealthCheck
	}
	return checks
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// pruner deletes history older than a retention window.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop prunes history once at start and then every pruneInterval until ctx ends.
func pruneLoop(ctx context.Context, repo pruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning history failed", "error", err)
		case n > 0:
			log.Info("pruned history", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
