// Package config provides configuration management for the OddsRadar scraper.
package config

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// cleanupTimePattern matches the HH:MM wall-clock format of retention.cleanup_time.
var cleanupTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	_ = v.RegisterValidation("environment", validateEnvironment)
	_ = v.RegisterValidation("loglevel", validateLogLevel)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	cv := NewValidator()
	return cv.Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return validateCrossField(cfg)
}

// validateEnvironment validates the environment field
func validateEnvironment(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

// validateLogLevel validates the log level field
func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// validateCrossField checks constraints spanning multiple sections.
func validateCrossField(cfg *Config) error {
	if !cleanupTimePattern.MatchString(cfg.Retention.CleanupTime) {
		return fmt.Errorf("retention.cleanup_time must be HH:MM, got %q", cfg.Retention.CleanupTime)
	}

	// The watchdog threshold has to cover a full cycle, otherwise healthy
	// cycles get marked failed mid-flight.
	if cfg.Scraper.WatchdogThresholdMins < cfg.Scraper.CycleDeadlineMinutes {
		return fmt.Errorf(
			"scraper.watchdog_threshold_minutes (%d) must be >= scraper.cycle_deadline_minutes (%d)",
			cfg.Scraper.WatchdogThresholdMins, cfg.Scraper.CycleDeadlineMinutes,
		)
	}

	if cfg.Pipeline.RetryCapMs < cfg.Pipeline.RetryBaseMs {
		return fmt.Errorf("pipeline.retry_cap_ms must be >= pipeline.retry_base_ms")
	}

	return nil
}

// formatValidationErrors converts validator errors to a readable message
func formatValidationErrors(errs validator.ValidationErrors) error {
	msg := "configuration validation failed:"
	for _, e := range errs {
		msg += fmt.Sprintf("\n  - field '%s' failed rule '%s'", e.Namespace(), e.Tag())
	}
	return fmt.Errorf("%s", msg)
}
