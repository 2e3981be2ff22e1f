// Gray Logic Pi - GPIO Bridge
//
// This is the main entry point for the Gray Logic Pi service: a bridge
// between a pigpio daemon on a Raspberry Pi and the Gray Logic MQTT bus.
// It drives relays and LEDs, watches switches and contacts, and polls
// DHT22 climate sensors, publishing everything under the "gpio" protocol
// topics so a Gray Logic core can consume it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-pi/migrations"

	"github.com/nerrad567/gray-logic-pi/internal/bridges/gpio"
	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-pi/internal/pigpio"
)

// Set at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// Retention for locally persisted readings and state history.
const (
	readingRetention = 90 * 24 * time.Hour
	historyRetention = 90 * 24 * time.Hour
	pruneInterval    = 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Each subsystem registers its shutdown as a defer, so teardown runs in
// reverse of startup: bridge, daemon session, InfluxDB, MQTT, database.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Pi",
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

	// Swap the bootstrap logger for the configured one.
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "database", db.Close)

	readings := database.NewReadingRepository(db.DB)
	states := database.NewStateHistoryRepository(db.DB)

	mqttClient, err := connectBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeWithLog(log, "MQTT", mqttClient.Close)

	influxClient, err := connectTelemetry(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer closeWithLog(log, "InfluxDB", influxClient.Close)
	}

	daemon, err := pigpio.Connect(pigpio.Config{
		Host:           cfg.Daemon.Host,
		Port:           cfg.Daemon.Port,
		ConnectTimeout: cfg.Daemon.ConnectTimeout(),
		IOTimeout:      cfg.Daemon.IOTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connecting to pigpio daemon: %w", err)
	}
	defer closeWithLog(log, "daemon session", daemon.Close)
	daemon.SetLogger(log)
	log.Info("pigpio daemon connected",
		"address", fmt.Sprintf("%s:%d", cfg.Daemon.Host, cfg.Daemon.Port),
	)

	bridge, err := startBridge(ctx, cfg, daemon, mqttClient, readings, states, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting GPIO bridge: %w", err)
	}
	defer func() {
		log.Info("stopping GPIO bridge")
		bridge.Stop()
	}()

	go pruneLoop(ctx, readings, states, log)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath honours the GRAYPI_CONFIG override.
func getConfigPath() string {
	if path := os.Getenv("GRAYPI_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openStore opens the SQLite history store and brings its schema up to
// date.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// connectBus connects to the broker and routes connection events to the
// log.
func connectBus(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	client.SetLogger(log)
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	return client, nil
}

// connectTelemetry connects to InfluxDB when the config enables it.
// Returns (nil, nil) when disabled.
func connectTelemetry(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
	return client, nil
}

// startBridge loads the device map and starts the GPIO bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	daemon *pigpio.Client,
	mqttClient *mqtt.Client,
	readings *database.ReadingRepository,
	states *database.StateHistoryRepository,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*gpio.Bridge, error) {
	deviceMap, err := gpio.LoadDeviceMap(cfg.Devices.File)
	if err != nil {
		return nil, fmt.Errorf("loading device map: %w", err)
	}
	log.Info("device map loaded",
		"path", cfg.Devices.File,
		"devices", deviceMap.DeviceCount(),
	)

	opts := gpio.BridgeOptions{
		DeviceMap:  deviceMap,
		MQTTClient: mqttClient,
		Daemon:     daemon,
		Logger:     log,
		Version:    version,
		Readings:   readings,
		States:     states,
	}
	// Interfaces hold typed nils unless guarded.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := gpio.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating GPIO bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting GPIO bridge: %w", err)
	}
	log.Info("GPIO bridge started")
	return bridge, nil
}

// pruneLoop trims old sensor readings and state history once a day.
func pruneLoop(ctx context.Context, readings *database.ReadingRepository, states *database.StateHistoryRepository, log *logging.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := readings.PruneReadings(ctx, readingRetention); err != nil {
				log.Error("pruning readings failed", "error", err)
			} else if n > 0 {
				log.Info("pruned sensor readings", "rows", n)
			}
			if n, err := states.PruneHistory(ctx, historyRetention); err != nil {
				log.Error("pruning state history failed", "error", err)
			} else if n > 0 {
				log.Info("pruned state history", "rows", n)
			}
		}
	}
}

// healthCheck verifies the infrastructure connections after startup.
// Bridge health is covered by Start itself, which has to reach the
// daemon and register its subscriptions to succeed.
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

// closeWithLog runs a subsystem's Close during shutdown, logging rather
// than propagating failures.
func closeWithLog(log *logging.Logger, name string, close func() error) {
	log.Info("closing " + name)
	if err := close(); err != nil {
		log.Error("error closing "+name, "subsystem", name, "error", err)
	}
}
