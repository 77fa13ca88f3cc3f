// Package config provides configuration management for the OddsRadar scraper.
package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Bookmaker BookmakerConfig `mapstructure:"bookmakers" validate:"required"`
	Scraper   ScraperConfig   `mapstructure:"scraper" validate:"required"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" validate:"required"`
	Push      PushConfig      `mapstructure:"push" validate:"required"`
	Retention RetentionConfig `mapstructure:"retention" validate:"required"`
	API       APIConfig       `mapstructure:"api" validate:"required"`
	Metrics   MetricsConfig   `mapstructure:"metrics" validate:"required"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host" validate:"required"`
	Port           int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Name           string `mapstructure:"name" validate:"required"`
	User           string `mapstructure:"user" validate:"required"`
	Password       string `mapstructure:"password" validate:"required"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"required,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"required,gt=0"`
}

// BookmakerConfig holds the per-bookmaker client settings.
type BookmakerConfig struct {
	Betpawa   BookmakerEndpoint `mapstructure:"betpawa" validate:"required"`
	SportyBet BookmakerEndpoint `mapstructure:"sportybet" validate:"required"`
	Bet9ja    BookmakerEndpoint `mapstructure:"bet9ja" validate:"required"`
}

// BookmakerEndpoint configures one bookmaker's outbound HTTP client.
// Concurrency is the global per-bookmaker semaphore width.
type BookmakerEndpoint struct {
	BaseURL     string  `mapstructure:"base_url" validate:"required,url"`
	APIKey      string  `mapstructure:"api_key"`
	Concurrency int     `mapstructure:"concurrency" validate:"required,gt=0"`
	RateLimit   float64 `mapstructure:"rate_limit" validate:"required,gt=0"`
}

// ScraperConfig represents scrape-cycle configuration
type ScraperConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds" validate:"required,gte=30"`
	EventParallelism      int `mapstructure:"event_parallelism" validate:"required,gt=0"`
	FetchTimeoutSeconds   int `mapstructure:"fetch_timeout_seconds" validate:"required,gt=0"`
	FetchRetries          int `mapstructure:"fetch_retries" validate:"gte=0"`
	CycleDeadlineMinutes  int `mapstructure:"cycle_deadline_minutes" validate:"required,gt=0"`
	WatchdogIntervalMins  int `mapstructure:"watchdog_interval_minutes" validate:"required,gt=0"`
	WatchdogThresholdMins int `mapstructure:"watchdog_threshold_minutes" validate:"required,gt=0"`
}

// PipelineConfig represents the async write pipeline configuration
type PipelineConfig struct {
	QueueSize     int `mapstructure:"queue_size" validate:"required,gt=0"`
	Workers       int `mapstructure:"workers" validate:"required,gt=0"`
	RetryAttempts int `mapstructure:"retry_attempts" validate:"required,gt=0"`
	RetryBaseMs   int `mapstructure:"retry_base_ms" validate:"required,gt=0"`
	RetryCapMs    int `mapstructure:"retry_cap_ms" validate:"required,gt=0"`
}

// PushConfig represents the push hub configuration
type PushConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer" validate:"required,gt=0"`
}

// RetentionConfig represents history retention configuration
type RetentionConfig struct {
	Days        int    `mapstructure:"days" validate:"required,min=1,max=90"`
	CleanupTime string `mapstructure:"cleanup_time" validate:"required"`
}

// APIConfig represents the read API server configuration
type APIConfig struct {
	Port       int `mapstructure:"port" validate:"required,min=1,max=65535"`
	HealthPort int `mapstructure:"health_port" validate:"required,min=1,max=65535"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Path    string `mapstructure:"path" validate:"required"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// ScrapeInterval returns the configured cycle interval as a duration.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Scraper.IntervalSeconds) * time.Second
}

// FetchTimeout returns the per-call fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// CycleDeadline returns the wall-clock bound for one cycle.
func (c *Config) CycleDeadline() time.Duration {
	return time.Duration(c.Scraper.CycleDeadlineMinutes) * time.Minute
}
