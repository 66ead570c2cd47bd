package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Polling interval bounds (seconds). The cloud API rate-limits aggressively,
// so the refresh interval is clamped rather than rejected.
const (
	MinRefreshInterval     = 15
	MaxRefreshInterval     = 900
	DefaultRefreshInterval = 30

	// DefaultDiscoveryInterval is how often the account is re-scanned for
	// added or removed locks (seconds).
	DefaultDiscoveryInterval = 300
)

// Config is the root configuration structure for Kwikset Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud     CloudConfig     `yaml:"cloud"`
	Push      MQTTConfig      `yaml:"push"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CloudConfig contains Kwikset cloud account and polling settings.
type CloudConfig struct {
	// BaseURL is the cloud REST endpoint. The default points at the
	// production API; override for testing against a mock server.
	BaseURL string `yaml:"base_url"`

	// HomeID selects which Kwikset home this bridge instance serves.
	HomeID string `yaml:"home_id"`

	// Email is the account login. Required.
	Email string `yaml:"email"`

	// Password enables automatic re-login when the refresh token has
	// expired. Optional; without it an expired refresh token requires
	// re-provisioning the bridge.
	Password string `yaml:"password"`

	// RefreshToken seeds the token manager on startup. Rotated tokens are
	// written back to TokenFile.
	RefreshToken string `yaml:"refresh_token"`

	// TokenFile is where rotated tokens are persisted between restarts.
	TokenFile string `yaml:"token_file"`

	// RequestTimeout is the per-request timeout for cloud calls (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// RefreshInterval is the device polling interval (seconds).
	// Clamped to [MinRefreshInterval, MaxRefreshInterval].
	RefreshInterval int `yaml:"refresh_interval"`

	// DiscoveryInterval is the device discovery re-scan interval (seconds).
	DiscoveryInterval int `yaml:"discovery_interval"`
}

// MQTTConfig contains broker settings for the realtime push channel.
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

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
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
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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
// Environment variables follow the pattern: KWIKSET_SECTION_KEY
// For example: KWIKSET_DATABASE_PATH, KWIKSET_CLOUD_EMAIL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:           "https://ynk95r1rkh.execute-api.us-east-1.amazonaws.com/prod_v1",
			TokenFile:         "./data/tokens.json",
			RequestTimeout:    15,
			RefreshInterval:   DefaultRefreshInterval,
			DiscoveryInterval: DefaultDiscoveryInterval,
		},
		Push: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "kwikset-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/kwikset-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8321,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KWIKSET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials - the usual way to keep secrets out of config.yaml
	if v := os.Getenv("KWIKSET_CLOUD_EMAIL"); v != "" {
		cfg.Cloud.Email = v
	}
	if v := os.Getenv("KWIKSET_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("KWIKSET_CLOUD_REFRESH_TOKEN"); v != "" {
		cfg.Cloud.RefreshToken = v
	}
	if v := os.Getenv("KWIKSET_CLOUD_HOME_ID"); v != "" {
		cfg.Cloud.HomeID = v
	}
	if v := os.Getenv("KWIKSET_CLOUD_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cloud.RefreshInterval = n
		}
	}

	// Database
	if v := os.Getenv("KWIKSET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Push broker
	if v := os.Getenv("KWIKSET_PUSH_HOST"); v != "" {
		cfg.Push.Broker.Host = v
	}
	if v := os.Getenv("KWIKSET_PUSH_USERNAME"); v != "" {
		cfg.Push.Auth.Username = v
	}
	if v := os.Getenv("KWIKSET_PUSH_PASSWORD"); v != "" {
		cfg.Push.Auth.Password = v
	}

	// API
	if v := os.Getenv("KWIKSET_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("KWIKSET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.Email == "" {
		errs = append(errs, "cloud.email is required (set KWIKSET_CLOUD_EMAIL environment variable)")
	}
	if c.Cloud.Password == "" && c.Cloud.RefreshToken == "" {
		errs = append(errs, "one of cloud.password or cloud.refresh_token is required")
	}
	if c.Cloud.RequestTimeout <= 0 {
		errs = append(errs, "cloud.request_timeout must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Push.QoS < 0 || c.Push.QoS > 2 {
		errs = append(errs, "push.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	// The refresh interval is clamped rather than rejected - an out-of-range
	// value from an old install should not stop the bridge from starting.
	if c.Cloud.RefreshInterval < MinRefreshInterval {
		c.Cloud.RefreshInterval = MinRefreshInterval
	}
	if c.Cloud.RefreshInterval > MaxRefreshInterval {
		c.Cloud.RefreshInterval = MaxRefreshInterval
	}
	if c.Cloud.DiscoveryInterval <= 0 {
		c.Cloud.DiscoveryInterval = DefaultDiscoveryInterval
	}

	return nil
}

// GetRefreshInterval returns the device polling interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Cloud.RefreshInterval) * time.Second
}

// GetDiscoveryInterval returns the device discovery interval as a Duration.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Cloud.DiscoveryInterval) * time.Second
}

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
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
