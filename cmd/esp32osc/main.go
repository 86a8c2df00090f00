// ESP32 OSC Core - device session service
//
// This is the main entry point for the esp32osc daemon. It owns the UDP
// receiver and one OSC session per configured ESP32 controller, and
// exposes them through:
//   - an HTTP API and WebSocket event stream
//   - an MQTT bridge for state, input and commands
//   - an SQLite device directory for firmware self-registration
//   - an SQLite history of the commands sent to devices
//   - optional InfluxDB telemetry (battery, heartbeat RTT, transitions)
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/esp32-osc-core/internal/api"
	"github.com/nerrad567/esp32-osc-core/internal/audit"
	"github.com/nerrad567/esp32-osc-core/internal/bridge"
	"github.com/nerrad567/esp32-osc-core/internal/directory"
	"github.com/nerrad567/esp32-osc-core/internal/esp32"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/config"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/database"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/logging"
	"github.com/nerrad567/esp32-osc-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/esp32-osc-core/migrations"
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

// managerStopTimeout bounds how long shutdown waits for the frame loop.
const managerStopTimeout = 5 * time.Second

// auditPruneInterval is how often expired command history is deleted.
const auditPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting esp32osc",
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

	directoryRepo := directory.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	if cfg.Database.AuditRetention > 0 {
		go pruneAudit(ctx, auditRepo, cfg.Database.AuditRetention, auditPruneInterval, log.Component("audit"))
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Session manager
	esp32Log := log.Component("esp32")
	manager := newManager(cfg.ESP32)
	manager.SetLogger(esp32Log)

	autoConnect := esp32.NewAutoConnect(autoConnectRules(cfg.ESP32.AutoConnect), cfg.ESP32.Hostname, esp32Log)
	autoSub := autoConnect.Attach(manager)
	defer autoSub.Unsubscribe()

	var loader *esp32.DeviceListLoader
	if cfg.ESP32.DeviceListURL != "" && cfg.ESP32.Enabled {
		loader = esp32.NewDeviceListLoader(cfg.ESP32.DeviceListURL, cfg.ESP32.DeviceListPort, esp32Log)
		// Stay idle until the first list arrives.
		manager.SetEnabled(false)
	}

	// MQTT bridge (requires MQTT)
	if mqttClient != nil {
		opts := bridge.Options{
			Manager:   manager,
			MQTT:      mqttClient,
			Directory: directoryRepo,
			Audit:     auditRepo,
			Version:   version,
			Logger:    log.Component("bridge"),
		}
		if influxClient != nil {
			opts.Telemetry = influxClient
		}
		if loader != nil {
			opts.Reloader = loader
		}
		esp32Bridge, bridgeErr := bridge.New(opts)
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := esp32Bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			esp32Bridge.Stop()
		}()
		log.Info("MQTT bridge started")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Manager:   manager,
			Directory: directoryRepo,
			Audit:     auditRepo,
			DB:        db,
			Version:   version,
		}
		if loader != nil {
			deps.Reloader = loader
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if influxClient != nil {
			deps.Telemetry = influxClient
		}
		apiServer, apiErr := api.New(deps)
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

	// Start the frame loop once every subscriber is attached.
	managerCtx, stopManager := context.WithCancel(ctx)
	defer stopManager()
	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(managerCtx, cfg.ESP32.TickInterval) }()

	if loader != nil {
		if loadErr := loader.Load(ctx, manager); loadErr != nil {
			if !errors.Is(loadErr, esp32.ErrDeviceListFetch) {
				stopManager()
				<-managerDone
				return fmt.Errorf("loading device list: %w", loadErr)
			}
			log.Warn("device list unavailable, using configured devices", "error", loadErr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := waitForShutdown(ctx, managerDone, stopManager, log); err != nil {
		return err
	}

	log.Info("esp32osc stopped")
	return nil
}

// waitForShutdown blocks until ctx is cancelled or the frame loop ends,
// then stops the loop. Only a frame loop failure that is not part of a
// shutdown is returned.
func waitForShutdown(ctx context.Context, managerDone <-chan error, stopManager context.CancelFunc, log *logging.Logger) error {
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case runErr := <-managerDone:
		if runErr != nil && ctx.Err() == nil {
			// The frame loop only ends early when the receiver cannot bind.
			return fmt.Errorf("session manager stopped: %w", runErr)
		}
		log.Info("session manager stopped, cleaning up")
		return nil
	}

	stopManager()
	select {
	case runErr := <-managerDone:
		if runErr != nil {
			log.Error("session manager error", "error", runErr)
		}
	case <-time.After(managerStopTimeout):
		log.Warn("session manager did not stop in time")
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ESP32OSC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ESP32OSC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newManager converts the esp32 config section into a session manager.
func newManager(c config.ESP32Config) *esp32.Manager {
	devices := make([]esp32.DeviceConfig, 0, len(c.Devices))
	for _, d := range c.Devices {
		devices = append(devices, esp32.DeviceConfig{
			Name:               d.Name,
			Address:            d.Address,
			Port:               d.Port,
			AutoConnectInBuild: d.AutoConnectInBuild,
		})
	}

	return esp32.NewManager(esp32.Config{
		Enabled:          c.Enabled,
		ServerPort:       c.ServerPort,
		AdvertiseAddress: c.AdvertiseAddress,
		Decoder: esp32.Decoder{
			MinVoltage: c.BatteryMinVoltage,
			MaxVoltage: c.BatteryMaxVoltage,
		},
		Session: esp32.SessionOptions{
			ConnectTimeout:      c.ConnectTimeout,
			HeartbeatInterval:   c.HeartbeatInterval,
			MaxFailedHeartbeats: c.MaxFailedHeartbeats,
			MinFirmwareVersion:  c.MinFirmwareVersion,
			ZeroEncoder:         c.ZeroEncoder,
			DevMode:             c.DevMode,
		},
		Devices: devices,
	})
}

func autoConnectRules(rules []config.AutoConnectRule) []esp32.AutoConnectRule {
	out := make([]esp32.AutoConnectRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, esp32.AutoConnectRule{Hostname: r.Hostname, Device: r.Device})
	}
	return out
}

// auditPruner is the part of audit.Repository pruneAudit needs.
type auditPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// pruneAudit deletes history older than retention now and then every
// interval until ctx is done.
func pruneAudit(ctx context.Context, repo auditPruner, retention, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneBefore(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning command history failed", "error", err)
		case n > 0:
			log.Info("pruned command history", "entries", n, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
