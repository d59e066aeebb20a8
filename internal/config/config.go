// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gazebridge/gazebridge/internal/calibration"
)

// Config holds every tunable of the server. Durations are milliseconds to
// match the wire protocol's time unit.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Tracker settings. Address empty means auto-detect; UseMock selects
	// the synthetic tracker.
	TrackerAddress string `yaml:"tracker_address"`
	UseMock        bool   `yaml:"use_mock"`

	// Sample store settings.
	BufferSize        int `yaml:"buffer_size"`
	BufferDurationMs  int `yaml:"buffer_duration_ms"`
	CleanupIntervalMs int `yaml:"cleanup_interval_ms"`

	// SaccadeRatio is the leading fraction of samples discarded per
	// validation point.
	SaccadeRatio float64 `yaml:"saccade_ratio"`

	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	return Config{
		Host:              "localhost",
		Port:              8080,
		BufferSize:        10000,
		BufferDurationMs:  60000,
		CleanupIntervalMs: 10000,
		SaccadeRatio:      calibration.DefaultSaccadeRatio,
		LogLevel:          "info",
		MetricsEnabled:    true,
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("GAZEBRIDGE_HOST", c.Host)
	c.Port = getEnvAsInt("GAZEBRIDGE_PORT", c.Port)
	c.TrackerAddress = getEnv("GAZEBRIDGE_TRACKER", c.TrackerAddress)
	c.LogLevel = getEnv("GAZEBRIDGE_LOG_LEVEL", c.LogLevel)
	if v := os.Getenv("GAZEBRIDGE_USE_MOCK"); v != "" {
		c.UseMock = v == "1" || v == "true"
	}
	c.BufferSize = getEnvAsInt("GAZEBRIDGE_BUFFER_SIZE", c.BufferSize)
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.BufferDurationMs <= 0 {
		return fmt.Errorf("buffer_duration_ms must be positive, got %d", c.BufferDurationMs)
	}
	if c.CleanupIntervalMs <= 0 {
		return fmt.Errorf("cleanup_interval_ms must be positive, got %d", c.CleanupIntervalMs)
	}
	if c.SaccadeRatio < 0 || c.SaccadeRatio >= 1 {
		return fmt.Errorf("saccade_ratio must be in [0, 1), got %v", c.SaccadeRatio)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BufferDuration returns the sample retention window.
func (c *Config) BufferDuration() time.Duration {
	return time.Duration(c.BufferDurationMs) * time.Millisecond
}

// CleanupInterval returns how often the eviction pass runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
