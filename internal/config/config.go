package config

import (
	"fmt"
	"os"
	"time"

	"github.com/wablast/wablast/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Accounts  []AccountConfig `yaml:"accounts"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AccountConfig describes one WhatsApp gateway account
type AccountConfig struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ExecutorConfig contains campaign executor settings
type ExecutorConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`       // Account readiness poll interval
	SingleWaitTimeout time.Duration `yaml:"single_wait_timeout"` // 0 = wait until the run is stopped
	AnyWaitTimeout    time.Duration `yaml:"any_wait_timeout"`
}

// StorageConfig contains storage paths
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

// RateLimitConfig contains per-account send quota settings
type RateLimitConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	Defaults   ratelimit.Limits         `yaml:"defaults"`
	PerAccount map[int]ratelimit.Limits `yaml:"per_account,omitempty"`
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
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Executor.PollInterval == 0 {
		c.Executor.PollInterval = 2 * time.Second
	}
	if c.Executor.AnyWaitTimeout == 0 {
		c.Executor.AnyWaitTimeout = 60 * time.Second
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "/var/lib/wablast/wablast.db"
	}
	if c.Storage.CheckpointPath == "" {
		c.Storage.CheckpointPath = "/var/lib/wablast/checkpoints.db"
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
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}

	seen := make(map[int]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.ID <= 0 {
			return fmt.Errorf("accounts[%d].id must be positive", i)
		}
		if seen[acc.ID] {
			return fmt.Errorf("duplicate account id %d", acc.ID)
		}
		seen[acc.ID] = true
		if acc.BaseURL == "" {
			return fmt.Errorf("accounts[%d].base_url is required", i)
		}
	}

	if c.RateLimit.Enabled {
		for id := range c.RateLimit.PerAccount {
			if !seen[id] {
				return fmt.Errorf("rate_limit.per_account references unknown account %d", id)
			}
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
