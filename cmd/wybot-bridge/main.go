// WyBot Bridge - local control plane for WyBot pool robots.
//
// The bridge reconciles the vendor's HTTP inventory with the MQTT
// telemetry stream into one consistent device view, exposes it over a
// REST API, and translates high-level commands into DP writes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/wybot-bridge/internal/api"
	"github.com/nerrad567/wybot-bridge/internal/coordinator"
	"github.com/nerrad567/wybot-bridge/internal/history"
	"github.com/nerrad567/wybot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wybot-bridge/internal/infrastructure/database"
	"github.com/nerrad567/wybot-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/wybot-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/wybot-bridge/internal/snapshot"
	"github.com/nerrad567/wybot-bridge/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

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
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting wybot-bridge",
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
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Inventory loader against the vendor HTTP API
	loader := snapshot.New(cfg.Account)
	loader.SetLogger(log)

	// MQTT transport to the vendor broker
	broker := transport.New(cfg.MQTT)
	broker.SetLogger(log)

	// DP change log
	store := history.NewStore(db)
	store.SetLogger(log)
	if retention := cfg.GetRetention(); retention > 0 {
		go store.RunRetention(ctx, retention)
		log.Info("history retention enabled", "days", cfg.Database.RetentionDays)
	} else {
		log.Info("history retention disabled")
	}

	// Reconciliation core
	coord := coordinator.New(broker, loader, coordinator.OptionsFromConfig(cfg))
	coord.SetLogger(log)
	coord.SetHistorySink(store)
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		coord.SetTelemetrySink(influxClient)
		influxClient.WritePoint("bridge_lifecycle",
			map[string]string{"event": "start"},
			map[string]interface{}{"version": version},
		)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect broker, load inventory, begin health loop. A broker that
	// is down at boot is tolerated; the session retries in the
	// background and last-known state is served meanwhile.
	coord.Start(ctx)
	log.Info("coordinator started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", broker.ClientID(),
	)

	// REST API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  coord,
			History: store,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. Coordinator (which closes the broker session)
	// 4. Database

	log.Info("wybot-bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WYBOT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WYBOT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
