// Package config provides configuration loading for the status engine.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	// Listen address (default ":8090")
	ListenAddr string `json:"listen_addr"`
	// Data directory for SQLite databases (default "/var/lib/statuswatch")
	DataDir string `json:"data_dir"`

	// Hysteresis thresholds
	FailureThreshold  int `json:"failure_threshold"`
	RecoveryThreshold int `json:"recovery_threshold"`

	// Probe worker pool size
	Workers int `json:"workers"`

	// Heartbeat grace factor: a beat is overdue after interval * grace
	HeartbeatGraceFactor float64 `json:"heartbeat_grace_factor"`

	// Incident correlation window in seconds
	CorrelationWindowSeconds int64 `json:"correlation_window_seconds"`

	// How often the scheduler re-reads monitor definitions, in seconds
	RefreshIntervalSeconds int64 `json:"refresh_interval_seconds"`

	// Webhook dispatch targets
	Webhooks []WebhookConfig `json:"webhooks,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// WebhookConfig is one outbound notification target.
type WebhookConfig struct {
	URL string `json:"url"`
	// Optional HMAC-SHA256 signing secret
	Secret string `json:"secret,omitempty"`
	// Event types to deliver; empty means all
	Events []string `json:"events,omitempty"`
}

// CorrelationWindow returns the configured window as a duration.
func (c Config) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowSeconds) * time.Second
}

// RefreshInterval returns the monitor refresh period as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:               ":8090",
		DataDir:                  "/var/lib/statuswatch",
		FailureThreshold:         3,
		RecoveryThreshold:        2,
		Workers:                  8,
		HeartbeatGraceFactor:     1.5,
		CorrelationWindowSeconds: 300,
		RefreshIntervalSeconds:   30,
		LogLevel:                 "info",
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("STATUSWATCH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STATUSWATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STATUSWATCH_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FailureThreshold = n
		}
	}
	if v := os.Getenv("STATUSWATCH_RECOVERY_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RecoveryThreshold = n
		}
	}
	if v := os.Getenv("STATUSWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("STATUSWATCH_HEARTBEAT_GRACE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HeartbeatGraceFactor = f
		}
	}
	if v := os.Getenv("STATUSWATCH_CORRELATION_WINDOW"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CorrelationWindowSeconds = n
		}
	}
	if v := os.Getenv("STATUSWATCH_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RefreshIntervalSeconds = n
		}
	}
	if v := os.Getenv("STATUSWATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1")
	}
	if c.RecoveryThreshold < 1 {
		return fmt.Errorf("recovery_threshold must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.HeartbeatGraceFactor <= 1 {
		return fmt.Errorf("heartbeat_grace_factor must be > 1")
	}
	if c.RefreshIntervalSeconds < 1 {
		return fmt.Errorf("refresh_interval_seconds must be >= 1")
	}
	return nil
}
