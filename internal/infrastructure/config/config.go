package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Tailnet Monitor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Poller    PollerConfig    `yaml:"poller"`
	Entities  []EntitySeed    `yaml:"entities"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetentionDays is how long API audit entries are kept.
	// Zero keeps them forever. Default: 90
	AuditRetentionDays int `yaml:"audit_retention_days"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// InfluxDBConfig contains InfluxDB connection settings for the event log.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings for the HTTP API.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// TailscaleConfig contains settings for the Tailscale API client.
type TailscaleConfig struct {
	// BaseURL is the API root, without the /api/v2 suffix.
	// Default: "https://api.tailscale.com"
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds every API call. Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PollerConfig contains the polling and transition-detection settings.
// These apply to every tracked entity.
type PollerConfig struct {
	// Interval between timer-driven polls. Default: 60s
	Interval time.Duration `yaml:"interval"`

	// MaxConsecutiveErrors is how many back-to-back failed polls mark an
	// entity unavailable. Default: 3
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// OnlineThreshold is how recent lastSeen must be for a device to count
	// as online. Default: 5m
	OnlineThreshold time.Duration `yaml:"online_threshold"`

	// ReconnectThreshold is the minimum offline duration before a return
	// online raises a reconnected event. Default: 15m
	ReconnectThreshold time.Duration `yaml:"reconnect_threshold"`

	// EvictAfterMissedPolls removes a known device after it is absent from
	// this many consecutive successful polls. 0 keeps entries forever.
	EvictAfterMissedPolls int `yaml:"evict_after_missed_polls"`
}

// EntitySeed declares a tracked entity in the config file.
// Seeds are created in the entity store on startup if they do not exist.
type EntitySeed struct {
	ID        string `yaml:"id"`
	Kind      string `yaml:"kind"` // "tailnet" or "device"
	Name      string `yaml:"name"`
	TailnetID string `yaml:"tailnet_id"`
	NodeID    string `yaml:"node_id,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// Keys are never read from the config file itself.
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the seed's API key from the environment.
func (s EntitySeed) APIKey() string {
	if s.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(s.APIKeyEnv)
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TAILNETMON_SECTION_KEY
// For example: TAILNETMON_DATABASE_PATH, TAILNETMON_MQTT_HOST
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Tailnet Monitor",
		},
		Database: DatabaseConfig{
			Path:               "./data/tailnetmon.db",
			WALMode:            true,
			BusyTimeout:        5,
			AuditRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tailnetmon",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
		Tailscale: TailscaleConfig{
			BaseURL:        "https://api.tailscale.com",
			RequestTimeout: 30 * time.Second,
		},
		Poller: PollerConfig{
			Interval:             60 * time.Second,
			MaxConsecutiveErrors: 3,
			OnlineThreshold:      5 * time.Minute,
			ReconnectThreshold:   15 * time.Minute,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TAILNETMON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TAILNETMON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TAILNETMON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TAILNETMON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TAILNETMON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TAILNETMON_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("TAILNETMON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Tailscale
	if v := os.Getenv("TAILNETMON_TAILSCALE_BASE_URL"); v != "" {
		cfg.Tailscale.BaseURL = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("TAILNETMON_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetentionDays < 0 {
		errs = append(errs, "database.audit_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set TAILNETMON_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Tailscale.BaseURL == "" {
		errs = append(errs, "tailscale.base_url is required")
	}
	if c.Tailscale.RequestTimeout <= 0 {
		errs = append(errs, "tailscale.request_timeout must be positive")
	}

	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if c.Poller.MaxConsecutiveErrors < 1 {
		errs = append(errs, "poller.max_consecutive_errors must be at least 1")
	}
	if c.Poller.OnlineThreshold <= 0 {
		errs = append(errs, "poller.online_threshold must be positive")
	}
	if c.Poller.ReconnectThreshold <= 0 {
		errs = append(errs, "poller.reconnect_threshold must be positive")
	}
	if c.Poller.EvictAfterMissedPolls < 0 {
		errs = append(errs, "poller.evict_after_missed_polls cannot be negative")
	}

	seen := make(map[string]bool, len(c.Entities))
	for i, e := range c.Entities {
		switch {
		case e.ID == "":
			errs = append(errs, fmt.Sprintf("entities[%d].id is required", i))
		case seen[e.ID]:
			errs = append(errs, fmt.Sprintf("entities[%d].id %q is duplicated", i, e.ID))
		}
		seen[e.ID] = true

		if e.Kind != "tailnet" && e.Kind != "device" {
			errs = append(errs, fmt.Sprintf("entities[%d].kind must be \"tailnet\" or \"device\"", i))
		}
		if e.TailnetID == "" {
			errs = append(errs, fmt.Sprintf("entities[%d].tailnet_id is required", i))
		}
		if e.Kind == "device" && e.NodeID == "" {
			errs = append(errs, fmt.Sprintf("entities[%d].node_id is required for device entities", i))
		}
		if e.APIKeyEnv == "" {
			errs = append(errs, fmt.Sprintf("entities[%d].api_key_env is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
