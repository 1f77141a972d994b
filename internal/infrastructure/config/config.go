// Package config loads the shell's configuration from the environment
// (CORAL_* variables) with an optional YAML file underneath: file values
// apply first, environment variables win.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pump      PumpConfig      `yaml:"pump"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the observer API listener configuration.
type ServerConfig struct {
	Enabled bool   `envconfig:"SERVER_ENABLED" default:"false" yaml:"enabled"`
	Port    string `envconfig:"PORT" default:"8750" yaml:"port"`
	Host    string `envconfig:"HOST" default:"127.0.0.1" yaml:"host"`
}

// PumpConfig tunes the per-stage stream taps.
type PumpConfig struct {
	RingCapacity int           `envconfig:"RING_CAPACITY" default:"65536" yaml:"ring_capacity"`
	SniffBudget  int           `envconfig:"SNIFF_BUDGET" default:"4096" yaml:"sniff_budget"`
	DetachGrace  time.Duration `envconfig:"DETACH_GRACE" default:"250ms" yaml:"detach_grace"`
	CaptureLimit int           `envconfig:"CAPTURE_LIMIT" default:"1048576" yaml:"capture_limit"`
}

// HistoryConfig controls command history persistence.
type HistoryConfig struct {
	Path  string `envconfig:"HISTORY_PATH" default:"" yaml:"path"`
	Limit int    `envconfig:"HISTORY_LIMIT" default:"10000" yaml:"limit"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds observer API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// envPrefix namespaces every variable, e.g. CORAL_LOG_LEVEL.
const envPrefix = "coral"

// Load reads configuration from CORAL_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads a YAML configuration file, then lets CORAL_* environment
// variables override it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with any CORAL_* variables actually set.
func applyEnv(cfg *Config) error {
	fromEnv, err := Load()
	if err != nil {
		return err
	}
	defaults := Default()

	// envconfig cannot distinguish "unset" from "set to the default", so
	// only fields that differ from the default count as overrides.
	if fromEnv.Server != defaults.Server {
		cfg.Server = fromEnv.Server
	}
	if fromEnv.Pump != defaults.Pump {
		cfg.Pump = fromEnv.Pump
	}
	if fromEnv.History != defaults.History {
		cfg.History = fromEnv.History
	}
	if fromEnv.Logging != defaults.Logging {
		cfg.Logging = fromEnv.Logging
	}
	if fromEnv.RateLimit != defaults.RateLimit {
		cfg.RateLimit = fromEnv.RateLimit
	}
	return nil
}

// LoadOrDefault loads from the environment, falling back to defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled: false,
			Port:    "8750",
			Host:    "127.0.0.1",
		},
		Pump: PumpConfig{
			RingCapacity: 64 * 1024,
			SniffBudget:  4096,
			DetachGrace:  250 * time.Millisecond,
			CaptureLimit: 1 << 20,
		},
		History: HistoryConfig{
			Limit: 10000,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
