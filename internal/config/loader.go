// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in calendar tracks.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
type ConfigError struct {
	Stage   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads, populates, and validates the engine configuration.
//
// A missing .env file is not an error: in deployed environments all
// values come from the process environment. Validation failures are
// fatal and carry the offending field in the wrapped error.
func Load() (*Config, error) {
	// Calendar-track arithmetic assumes UTC everywhere.
	time.Local = time.UTC

	// Best effort; deployed environments have no .env file.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Stage: "envconfig", Message: "failed to process environment", Err: err}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configValidator is the shared validator for config struct tags.
var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate applies struct-tag rules plus cross-field checks that tags
// cannot express.
func Validate(cfg *Config) error {
	if err := configValidator.Struct(cfg); err != nil {
		return &ConfigError{Stage: "validate", Message: "invalid configuration", Err: err}
	}

	// The lease must outlive the per-schedule deadline, otherwise a
	// still-running worker can lose its claim mid-generation.
	if cfg.Scheduler.LeaseTTL <= cfg.Scheduler.ScheduleTimeout {
		return &ConfigError{
			Stage: "validate",
			Message: fmt.Sprintf("SCHEDULER_LEASE_TTL (%s) must exceed SCHEDULER_SCHEDULE_TIMEOUT (%s)",
				cfg.Scheduler.LeaseTTL, cfg.Scheduler.ScheduleTimeout),
		}
	}

	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return &ConfigError{
			Stage:   "validate",
			Message: fmt.Sprintf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns),
		}
	}

	return nil
}
