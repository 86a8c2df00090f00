package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ESP32 OSC core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	ESP32     ESP32Config     `yaml:"esp32"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ESP32Config contains the device session settings.
type ESP32Config struct {
	Enabled          bool   `yaml:"enabled"`
	ServerPort       int    `yaml:"server_port"`
	AdvertiseAddress string `yaml:"advertise_address"`

	// DevMode disables auto-reconnect for every device.
	DevMode bool `yaml:"dev_mode"`

	TickInterval        time.Duration `yaml:"tick_interval"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	MaxFailedHeartbeats int           `yaml:"max_failed_heartbeats"`

	// MinFirmwareVersion rejects older devices. 0 disables the check.
	MinFirmwareVersion int `yaml:"min_firmware_version"`

	BatteryMinVoltage float64 `yaml:"battery_min_voltage"`
	BatteryMaxVoltage float64 `yaml:"battery_max_voltage"`
	ZeroEncoder       bool    `yaml:"zero_encoder"`

	// DeviceListURL points at a remote devices.json. Empty disables fetching.
	DeviceListURL  string `yaml:"device_list_url"`
	DeviceListPort int    `yaml:"device_list_port"`

	// Hostname overrides os.Hostname for auto-connect matching.
	Hostname    string            `yaml:"hostname"`
	AutoConnect []AutoConnectRule `yaml:"auto_connect"`

	Devices []ESP32DeviceConfig `yaml:"devices"`
}

// AutoConnectRule connects Device when the host name matches the Hostname regex.
type AutoConnectRule struct {
	Hostname string `yaml:"hostname"`
	Device   string `yaml:"device"`
}

// ESP32DeviceConfig describes one statically configured device.
type ESP32DeviceConfig struct {
	Name               string `yaml:"name"`
	Address            string `yaml:"address"`
	Port               int    `yaml:"port"`
	AutoConnectInBuild bool   `yaml:"auto_connect_in_build"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetention is how long command history is kept. 0 keeps it forever.
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
	// Site tags every point. Load copies it from site.id.
	Site string `yaml:"-"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESP32OSC_SECTION_KEY
// For example: ESP32OSC_DATABASE_PATH, ESP32OSC_ESP32_SERVER_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.InfluxDB.Site = cfg.Site.ID

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "ESP32 OSC",
		},
		ESP32: ESP32Config{
			Enabled:             true,
			ServerPort:          8888,
			TickInterval:        20 * time.Millisecond,
			ConnectTimeout:      5 * time.Second,
			HeartbeatInterval:   5 * time.Second,
			MaxFailedHeartbeats: 3,
			BatteryMinVoltage:   3.5,
			BatteryMaxVoltage:   4.2,
			DeviceListPort:      9999,
		},
		Database: DatabaseConfig{
			Path:           "./data/esp32osc.db",
			WALMode:        true,
			BusyTimeout:    5,
			AuditRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "esp32osc-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ESP32OSC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// ESP32
	if v := os.Getenv("ESP32OSC_ESP32_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ESP32.ServerPort = port
		}
	}
	if v := os.Getenv("ESP32OSC_ESP32_ADVERTISE_ADDRESS"); v != "" {
		cfg.ESP32.AdvertiseAddress = v
	}
	if v := os.Getenv("ESP32OSC_ESP32_DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ESP32.DevMode = b
		}
	}
	if v := os.Getenv("ESP32OSC_ESP32_DEVICE_LIST_URL"); v != "" {
		cfg.ESP32.DeviceListURL = v
	}
	if v := os.Getenv("ESP32OSC_ESP32_HOSTNAME"); v != "" {
		cfg.ESP32.Hostname = v
	}

	// Database
	if v := os.Getenv("ESP32OSC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ESP32OSC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ESP32OSC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ESP32OSC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ESP32OSC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ESP32OSC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("ESP32OSC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.ESP32.validate()...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetention < 0 {
		errs = append(errs, "database.audit_retention must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (e *ESP32Config) validate() []string {
	var errs []string

	if e.ServerPort < 0 || e.ServerPort > 65535 {
		errs = append(errs, "esp32.server_port must be between 0 and 65535")
	}
	if e.AdvertiseAddress != "" && net.ParseIP(e.AdvertiseAddress) == nil {
		errs = append(errs, fmt.Sprintf("esp32.advertise_address %q is not an IP address", e.AdvertiseAddress))
	}
	if e.TickInterval <= 0 {
		errs = append(errs, "esp32.tick_interval must be positive")
	}
	if e.ConnectTimeout <= 0 {
		errs = append(errs, "esp32.connect_timeout must be positive")
	}
	if e.HeartbeatInterval <= 0 {
		errs = append(errs, "esp32.heartbeat_interval must be positive")
	}
	if e.MaxFailedHeartbeats < 1 {
		errs = append(errs, "esp32.max_failed_heartbeats must be at least 1")
	}
	if e.MinFirmwareVersion < 0 {
		errs = append(errs, "esp32.min_firmware_version must not be negative")
	}
	if e.BatteryMaxVoltage <= e.BatteryMinVoltage {
		errs = append(errs, "esp32.battery_max_voltage must be greater than battery_min_voltage")
	}
	if e.DeviceListPort < 1 || e.DeviceListPort > 65535 {
		errs = append(errs, "esp32.device_list_port must be between 1 and 65535")
	}

	for i, rule := range e.AutoConnect {
		if _, err := regexp.Compile(rule.Hostname); err != nil {
			errs = append(errs, fmt.Sprintf("esp32.auto_connect[%d].hostname: %v", i, err))
		}
		if rule.Device == "" {
			errs = append(errs, fmt.Sprintf("esp32.auto_connect[%d].device is required", i))
		}
	}

	seen := make(map[string]bool, len(e.Devices))
	for i, d := range e.Devices {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Sprintf("esp32.devices[%d].name is required", i))
		case seen[d.Name]:
			errs = append(errs, fmt.Sprintf("esp32.devices[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true
		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("esp32.devices[%d].address is required", i))
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("esp32.devices[%d].port must be between 1 and 65535", i))
		}
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
