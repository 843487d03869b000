// Package config loads and validates the wablast configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wablast/wablast/internal/ratelimit"
)

// ConfigurationError is a fatal configuration problem, surfaced before
// any send is attempted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Config is the main configuration structure
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ProviderConfig holds the messaging gateway credentials.
type ProviderConfig struct {
	InstanceID string        `yaml:"instance_id"`
	APIToken   string        `yaml:"api_token"`
	BaseURL    string        `yaml:"base_url"` // default https://api.ultramsg.com
	Timeout    time.Duration `yaml:"timeout"`
}

// DispatchConfig controls run pacing and batching.
type DispatchConfig struct {
	LiveMode             bool          `yaml:"live_mode"`
	BatchSize            int           `yaml:"batch_size"`
	DelayBetweenMessages time.Duration `yaml:"delay_between_messages"`
	DelayBetweenBatches  time.Duration `yaml:"delay_between_batches"`
	Concurrency          int           `yaml:"concurrency"`
}

// RateLimitConfig contains provider cap settings.
type RateLimitConfig struct {
	Enabled          bool                   `yaml:"enabled"`
	StoragePath      string                 `yaml:"storage_path"`
	FlushInterval    time.Duration          `yaml:"flush_interval"`
	Instance         *ratelimit.LimitConfig `yaml:"instance,omitempty"`
	DefaultRecipient *ratelimit.LimitConfig `yaml:"default_recipient,omitempty"`
}

// APIConfig contains HTTP API settings.
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads configuration from a YAML file, applies environment
// overrides for credentials and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.SetDefaults()
	return cfg, nil
}

// Default returns a configuration with defaults only (credentials from
// the environment, if set).
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.SetDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WABLAST_INSTANCE_ID"); v != "" {
		c.Provider.InstanceID = v
	}
	if v := os.Getenv("WABLAST_API_TOKEN"); v != "" {
		c.Provider.APIToken = v
	}
}

// SetDefaults fills unset fields with defaults.
func (c *Config) SetDefaults() {
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.ultramsg.com"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.DelayBetweenMessages == 0 {
		c.Dispatch.DelayBetweenMessages = time.Second
	}
	if c.Dispatch.DelayBetweenBatches == 0 {
		c.Dispatch.DelayBetweenBatches = 30 * time.Second
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 5
	}
	if c.RateLimit.StoragePath == "" {
		c.RateLimit.StoragePath = "wablast.db"
	}
	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxUploadBytes == 0 {
		c.API.MaxUploadBytes = 16 << 20 // 16 MiB
	}
	if c.API.SessionTTL == 0 {
		c.API.SessionTTL = time.Hour
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that the configuration can start a service. Sending
// additionally requires ValidateCredentials.
func (c *Config) Validate() error {
	if c.Dispatch.BatchSize < 0 {
		return &ConfigurationError{Field: "dispatch.batch_size", Reason: "must not be negative"}
	}
	if c.Dispatch.Concurrency < 0 {
		return &ConfigurationError{Field: "dispatch.concurrency", Reason: "must not be negative"}
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return &ConfigurationError{Field: "logging.format", Reason: "must be text or json"}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigurationError{Field: "logging.level", Reason: "must be debug, info, warn or error"}
	}
	return nil
}

// ValidateCredentials checks the provider credentials needed for any
// live run. Dry runs work without them.
func (c *Config) ValidateCredentials() error {
	if c.Provider.InstanceID == "" {
		return &ConfigurationError{Field: "provider.instance_id", Reason: "required for sending"}
	}
	if c.Provider.APIToken == "" {
		return &ConfigurationError{Field: "provider.api_token", Reason: "required for sending"}
	}
	return nil
}
