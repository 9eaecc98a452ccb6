package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Clamp bounds for the DP0 split delay (seconds).
const (
	dp0DelayMin = 0
	dp0DelayMax = 60
)

// Config is the root configuration structure for the WyBot bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Database    DatabaseConfig    `yaml:"database"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// AccountConfig contains WyBot cloud account credentials for the HTTP
// inventory API.
type AccountConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// BaseURL overrides the production API endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`
}

// MQTTConfig contains WyBot broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker authentication credentials.
// The WyBot broker uses fixed app-level credentials; the defaults match
// what the mobile app presents.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CoordinatorConfig contains reconciliation tuning.
type CoordinatorConfig struct {
	// RefreshInterval is how often the inventory snapshot and transport
	// health are checked (seconds).
	RefreshInterval int `yaml:"refresh_interval"`

	// OfflineTTL is how long without any traffic before a target with no
	// explicit presence signal is no longer considered online (seconds).
	OfflineTTL int `yaml:"offline_ttl"`

	// PushDebounce is the state-change notification coalescing window
	// (milliseconds).
	PushDebounce int `yaml:"push_debounce"`

	// ReconnectBackoff is the minimum gap between reconnect attempts
	// (seconds).
	ReconnectBackoff int `yaml:"reconnect_backoff"`

	// DP0Delay is the gap between publishing ordinary DP writes and a
	// combined DP0 (start/stop) write (seconds, clamped 0-60).
	DP0Delay int `yaml:"dp0_delay"`

	// TSOffset is added to wall-clock time when issuing command
	// timestamps, for accounts whose devices run on skewed clocks (seconds).
	TSOffset int `yaml:"ts_offset"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long DP history rows are kept before the
	// periodic prune removes them. Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, merges, and validates configuration from the given path.
// Missing file fields fall back to defaults; environment variables win last.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file: defaults + env overrides only.
			applyEnvOverrides(cfg)
			if valErr := cfg.Validate(); valErr != nil {
				return nil, fmt.Errorf("validating config: %w", valErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// The broker host/credentials match what the WyBot mobile app uses.
func defaultConfig() *Config {
	return &Config{
		Account: AccountConfig{
			BaseURL: "https://api.wybotpool.com",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "mqtt.wybotpool.com",
				Port:     1883,
				ClientID: "wybot-bridge",
			},
			Auth: MQTTAuthConfig{
				Username: "wyindustry",
			},
			QoS: 1,
		},
		Coordinator: CoordinatorConfig{
			RefreshInterval:  120,
			OfflineTTL:       180,
			PushDebounce:     250,
			ReconnectBackoff: 30,
			DP0Delay:         6,
			TSOffset:         0,
		},
		Database: DatabaseConfig{
			Path:          "./data/wybot.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WYBOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account
	if v := os.Getenv("WYBOT_ACCOUNT_USERNAME"); v != "" {
		cfg.Account.Username = v
	}
	if v := os.Getenv("WYBOT_ACCOUNT_PASSWORD"); v != "" {
		cfg.Account.Password = v
	}

	// MQTT
	if v := os.Getenv("WYBOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WYBOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WYBOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("WYBOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("WYBOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Account.Username == "" {
		errs = append(errs, "account.username is required (set WYBOT_ACCOUNT_USERNAME)")
	}
	if c.Account.Password == "" {
		errs = append(errs, "account.password is required (set WYBOT_ACCOUNT_PASSWORD)")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	if c.Coordinator.RefreshInterval <= 0 {
		errs = append(errs, "coordinator.refresh_interval must be positive")
	}
	if c.Coordinator.OfflineTTL <= 0 {
		errs = append(errs, "coordinator.offline_ttl must be positive")
	}
	if c.Coordinator.PushDebounce < 0 {
		errs = append(errs, "coordinator.push_debounce must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRefreshInterval returns the coordinator refresh interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Coordinator.RefreshInterval) * time.Second
}

// GetOfflineTTL returns the offline TTL as a Duration.
func (c *Config) GetOfflineTTL() time.Duration {
	return time.Duration(c.Coordinator.OfflineTTL) * time.Second
}

// GetPushDebounce returns the notification debounce window as a Duration.
func (c *Config) GetPushDebounce() time.Duration {
	return time.Duration(c.Coordinator.PushDebounce) * time.Millisecond
}

// GetReconnectBackoff returns the reconnect gate as a Duration.
func (c *Config) GetReconnectBackoff() time.Duration {
	return time.Duration(c.Coordinator.ReconnectBackoff) * time.Second
}

// GetDP0Delay returns the DP0 split delay as a Duration, clamped to the
// supported range.
func (c *Config) GetDP0Delay() time.Duration {
	d := c.Coordinator.DP0Delay
	if d < dp0DelayMin {
		d = dp0DelayMin
	}
	if d > dp0DelayMax {
		d = dp0DelayMax
	}
	return time.Duration(d) * time.Second
}

// GetRetention returns the DP history retention period as a Duration.
// Zero means pruning is disabled.
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
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
