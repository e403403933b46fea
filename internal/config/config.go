// Package config loads the daemon's configuration, following the
// teacher's pattern exactly: a typed Config with DefaultConfig() filling
// in sane defaults, LoadFromFile unmarshaling a JSON file over those
// defaults, and LoadFromEnv applying environment variable overrides.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// PoolConfig holds warm-container pool settings (spec.md §4.5, §4.8).
type PoolConfig struct {
	SoftIdle time.Duration `json:"soft_idle"` // default 2s, stop eligible
	HardIdle time.Duration `json:"hard_idle"` // default 4s, remove eligible
}

// AutoscalerConfig holds a tick interval for the periodic controller
// (spec.md §4.7). The daemon does not read it; the autoscaler ticks at
// autoscaler.TickInterval.
type AutoscalerConfig struct {
	Interval time.Duration `json:"interval"` // default 250ms
}

// WatchdogConfig holds a tick interval for the idle reaper (spec.md §4.8).
// The daemon does not read it; the watchdog ticks at watchdog.TickInterval.
type WatchdogConfig struct {
	Interval time.Duration `json:"interval"` // default 30s
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// DriverConfig holds the container driver's connection settings.
type DriverConfig struct {
	ContainerdSocket string `json:"containerd_socket"` // default /run/containerd/containerd.sock
	Namespace        string `json:"namespace"`         // default lambdah
	ImagePrefix      string `json:"image_prefix"`      // default lambdah-runtime
	NetworkName      string `json:"network_name,omitempty"`
}

// Config is the daemon's top-level configuration.
type Config struct {
	HTTPAddr             string           `json:"http_addr"`              // Invoke API, default :8080
	RuntimeAPIAddr       string           `json:"runtime_api_addr"`       // Runtime API, default :9001
	MaxGlobalConcurrency int              `json:"max_global_concurrency"` // default 256
	InvokeTimeoutGrace   time.Duration    `json:"invoke_timeout_grace"`   // default 500ms, spec.md §4.9 step 7; not read, the handler uses invoke.Grace
	Pool                 PoolConfig       `json:"pool"`
	Autoscaler           AutoscalerConfig `json:"autoscaler"`
	Watchdog             WatchdogConfig   `json:"watchdog"`
	Logging              LoggingConfig    `json:"logging"`
	Driver               DriverConfig     `json:"driver"`
}

// DefaultConfig returns a Config with every field populated with the
// spec's normative defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:             ":8080",
		RuntimeAPIAddr:       ":9001",
		MaxGlobalConcurrency: 256,
		InvokeTimeoutGrace:   500 * time.Millisecond,
		Pool: PoolConfig{
			SoftIdle: 2 * time.Second,
			HardIdle: 4 * time.Second,
		},
		Autoscaler: AutoscalerConfig{Interval: 250 * time.Millisecond},
		Watchdog:   WatchdogConfig{Interval: 30 * time.Second},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Driver: DriverConfig{
			ContainerdSocket: "/run/containerd/containerd.sock",
			Namespace:        "lambdah",
			ImagePrefix:      "lambdah-runtime",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, defaults first.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies LAMBDAH_* environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LAMBDAH_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("LAMBDAH_RUNTIME_API_ADDR"); v != "" {
		cfg.RuntimeAPIAddr = v
	}
	if v := os.Getenv("LAMBDAH_MAX_GLOBAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxGlobalConcurrency = n
		}
	}
	if v := os.Getenv("LAMBDAH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LAMBDAH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LAMBDAH_CONTAINERD_SOCKET"); v != "" {
		cfg.Driver.ContainerdSocket = v
	}
	if v := os.Getenv("LAMBDAH_DRIVER_NAMESPACE"); v != "" {
		cfg.Driver.Namespace = v
	}
}
