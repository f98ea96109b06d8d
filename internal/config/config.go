// Package config loads canvaslog runtime settings from the environment,
// optionally overlaid by a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting the server and the CLI read.
//
// Precedence is environment over file over defaults.
type Config struct {
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":8080" yaml:"http_addr"`
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"sqlite" yaml:"store_driver"`
	SQLitePath       string        `env:"SQLITE_PATH" envDefault:"canvaslog.db" yaml:"sqlite_path"`
	PostgresDSN      string        `env:"POSTGRES_DSN" yaml:"postgres_dsn"`
	SnapshotInterval int64         `env:"SNAPSHOT_INTERVAL" envDefault:"10" yaml:"snapshot_interval"`
	NotifyBuffer     int           `env:"NOTIFY_BUFFER" envDefault:"16" yaml:"notify_buffer"`
	OTelEndpoint     string        `env:"OTEL_ENDPOINT" yaml:"otel_endpoint"`
	OTelEnabled      bool          `env:"OTEL_ENABLED" envDefault:"true" yaml:"otel_enabled"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" yaml:"shutdown_timeout"`
}

// EnvPrefix is prepended to every variable name in Config.
const EnvPrefix = "CANVASLOG_"

// Load builds a Config. When path is non-empty the YAML file is decoded
// first, then environment variables that are set override it.
func Load(path string) (Config, error) {
	cfg, err := defaults()
	if err != nil {
		return Config{}, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// Defaults already sit in cfg; the override pass reads no default tag so
	// only variables that are set win over the file.
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:              EnvPrefix,
		DefaultValueTagName: "envOverride",
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// defaults returns a Config holding only the envDefault values.
func defaults() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	}); err != nil {
		return Config{}, fmt.Errorf("parse defaults: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q (want memory, sqlite or postgres)", c.StoreDriver))
	}
	if c.SnapshotInterval < 1 {
		errs = append(errs, fmt.Errorf("snapshot_interval must be >= 1, got %d", c.SnapshotInterval))
	}
	if c.NotifyBuffer < 1 {
		errs = append(errs, fmt.Errorf("notify_buffer must be >= 1, got %d", c.NotifyBuffer))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
