// Package config provides configuration management for the OddsRadar scraper.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads and parses the configuration from file and environment variables.
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the configuration (${VAR} syntax)
	expanded := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewBuffer([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	v.SetEnvPrefix("ODDSRADAR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional
// fields. It expands environment variable placeholders in the YAML file
// (${VAR_NAME}); a missing file is not an error, defaults and environment
// variables apply.
func LoadWithDefaults(configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	v.SetConfigType("yaml")
	v.SetEnvPrefix("ODDSRADAR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBuffer([]byte(expanded))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers the defaults a bare deployment runs with.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "oddsradar")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.ssl_mode", "disable")

	// Per-bookmaker semaphore widths: Bet9ja throttles aggressively, keep
	// its width low.
	v.SetDefault("bookmakers.betpawa.concurrency", 50)
	v.SetDefault("bookmakers.sportybet.concurrency", 50)
	v.SetDefault("bookmakers.bet9ja.concurrency", 15)
	v.SetDefault("bookmakers.betpawa.rate_limit", 25.0)
	v.SetDefault("bookmakers.sportybet.rate_limit", 25.0)
	v.SetDefault("bookmakers.bet9ja.rate_limit", 8.0)

	v.SetDefault("scraper.interval_seconds", 300)
	v.SetDefault("scraper.event_parallelism", 10)
	v.SetDefault("scraper.fetch_timeout_seconds", 20)
	v.SetDefault("scraper.fetch_retries", 2)
	v.SetDefault("scraper.cycle_deadline_minutes", 15)
	v.SetDefault("scraper.watchdog_interval_minutes", 2)
	v.SetDefault("scraper.watchdog_threshold_minutes", 15)

	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.retry_attempts", 3)
	v.SetDefault("pipeline.retry_base_ms", 500)
	v.SetDefault("pipeline.retry_cap_ms", 8000)

	v.SetDefault("push.subscriber_buffer", 64)

	v.SetDefault("retention.days", 14)
	v.SetDefault("retention.cleanup_time", "02:00")

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.health_port", 8081)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}
