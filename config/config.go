// Package config loads runtime settings for the engine, logging and tracing
// from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	// ErrInvalidPartitions is returned when FSM_PARTITIONS is not positive.
	ErrInvalidPartitions = errors.New("partitions must be positive")
	// ErrInvalidMailboxDepth is returned when FSM_MAILBOX_DEPTH is negative.
	ErrInvalidMailboxDepth = errors.New("mailbox depth must not be negative")
	// ErrInvalidCreateConcurrency is returned when FSM_CREATE_CONCURRENCY is not positive.
	ErrInvalidCreateConcurrency = errors.New("create concurrency must be positive")
	// ErrInvalidLogLevel is returned when LOG_LEVEL cannot be parsed.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Engine holds the tunables of an execution engine.
type Engine struct {
	// Partitions is the number of per-id serialization lanes.
	Partitions int `env:"FSM_PARTITIONS" envDefault:"16"`
	// MailboxDepth is the buffer size of each partition's inbox.
	MailboxDepth int `env:"FSM_MAILBOX_DEPTH" envDefault:"64"`
	// CreateConcurrency bounds the number of init commands in flight.
	CreateConcurrency int `env:"FSM_CREATE_CONCURRENCY" envDefault:"8"`
	// SnapshotEvery caches an event-sourced fold every N events; 0 disables it.
	SnapshotEvery uint64 `env:"FSM_SNAPSHOT_EVERY" envDefault:"0"`
}

// Validate checks the engine settings.
func (e Engine) Validate() error {
	switch {
	case e.Partitions <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidPartitions, e.Partitions)
	case e.MailboxDepth < 0:
		return fmt.Errorf("%w: %d", ErrInvalidMailboxDepth, e.MailboxDepth)
	case e.CreateConcurrency <= 0:
		return fmt.Errorf("%w: %d", ErrInvalidCreateConcurrency, e.CreateConcurrency)
	default:
		return nil
	}
}

// DefaultEngine returns the settings used when nothing is configured.
func DefaultEngine() Engine {
	return Engine{
		Partitions:        16,
		MailboxDepth:      64,
		CreateConcurrency: 8,
	}
}

// Logging holds the logging settings.
type Logging struct {
	Subsystem string `env:"LOG_SUBSYSTEM" envDefault:"fsm"`
	JSON      bool   `env:"LOG_JSON"      envDefault:"false"`
	Level     string `env:"LOG_LEVEL"     envDefault:"info"`
}

// SlogLevel parses Level.
func (l Logging) SlogLevel() (slog.Level, error) {
	var level slog.Level

	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

// Telemetry holds the OpenTelemetry tracing settings.
type Telemetry struct {
	Enabled        bool          `env:"OTEL_ENABLED"                      envDefault:"false"`
	ServiceName    string        `env:"OTEL_SERVICE_NAME"                 envDefault:"fsm"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION"              envDefault:"1.0.0"`
	Environment    string        `env:"OTEL_DEPLOYMENT_ENVIRONMENT"`
	Endpoint       string        `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	Timeout        time.Duration `env:"OTEL_EXPORTER_OTLP_TRACES_TIMEOUT" envDefault:"5s"`
}

// Config is the complete runtime configuration.
type Config struct {
	Engine    Engine
	Logging   Logging
	Telemetry Telemetry
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Engine.Validate(); err != nil {
		return Config{}, err
	}

	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}
