package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the graypi service. Values come
// from three layers, each overriding the last: built-in defaults, the
// YAML file, then GRAYPI_* environment variables (used for secrets and
// per-host settings that should stay out of the file).
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Devices  DevicesConfig  `yaml:"devices"`
}

// SiteConfig identifies the installation this bridge belongs to.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DaemonConfig contains pigpio daemon connection settings.
type DaemonConfig struct {
	// Host is the daemon's hostname or IP.
	Host string `yaml:"host"`

	// Port is the daemon's TCP port. Default: 8888.
	Port int `yaml:"port"`

	// ConnectTimeoutSeconds bounds the initial dial and any reconnect.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// IOTimeoutSeconds bounds each command exchange. 0 blocks forever.
	IOTimeoutSeconds int `yaml:"io_timeout_seconds"`
}

// ConnectTimeout returns the daemon connect timeout as a Duration.
func (d DaemonConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutSeconds) * time.Second
}

// IOTimeout returns the daemon I/O timeout as a Duration.
func (d DaemonConfig) IOTimeout() time.Duration {
	return time.Duration(d.IOTimeoutSeconds) * time.Second
}

// DatabaseConfig contains SQLite settings for the local history store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Empty username means
// anonymous.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig tunes the reconnect backoff, in seconds.
// MaxAttempts 0 means retry forever.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains telemetry export settings. The whole section
// is optional; Enabled false keeps the service purely local.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig controls log level and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DevicesConfig points at the device map file.
type DevicesConfig struct {
	// File is the path to the YAML device map (outputs, inputs, sensors).
	File string `yaml:"file"`
}

// Load reads the YAML file at path over the defaults, applies GRAYPI_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Daemon: DaemonConfig{
			Host:                  "localhost",
			Port:                  8888,
			ConnectTimeoutSeconds: 10,
			IOTimeoutSeconds:      30,
		},
		Database: DatabaseConfig{
			Path:        "./data/graypi.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graypi",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Devices: DevicesConfig{
			File: "./config/devices.yaml",
		},
	}
}

// applyEnv overlays GRAYPI_SECTION_KEY environment variables. Only the
// settings that plausibly differ per host or carry secrets are exposed
// this way; everything else belongs in the file.
func (c *Config) applyEnv() {
	envString("GRAYPI_DAEMON_HOST", &c.Daemon.Host)
	envInt("GRAYPI_DAEMON_PORT", &c.Daemon.Port)
	envString("GRAYPI_DATABASE_PATH", &c.Database.Path)
	envString("GRAYPI_MQTT_HOST", &c.MQTT.Broker.Host)
	envString("GRAYPI_MQTT_USERNAME", &c.MQTT.Auth.Username)
	envString("GRAYPI_MQTT_PASSWORD", &c.MQTT.Auth.Password)
	envString("GRAYPI_INFLUXDB_TOKEN", &c.InfluxDB.Token)
	envString("GRAYPI_DEVICES_FILE", &c.Devices.File)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate reports every problem at once rather than stopping at the
// first, so a broken file can be fixed in one edit.
func (c *Config) Validate() error {
	var errs []string
	add := func(msg string) { errs = append(errs, msg) }

	if c.Site.ID == "" {
		add("site.id is required")
	}
	if c.Daemon.Host == "" {
		add("daemon.host is required")
	}
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		add("daemon.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		add("database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1, or 2")
	}
	if c.Devices.File == "" {
		add("devices.file is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
