// Package config reads podwire settings from PODWIRE_* environment
// variables. Command-line flags override these values.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"

	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/interpolate"
)

// Random pass sources selectable with PODWIRE_SOURCE. hash samples each
// (tick, id) independently; stream draws from one seeded sequence and only
// repeats when ticks are replayed in the same order.
const (
	SourceHash   = "hash"
	SourceStream = "stream"
)

// Config holds the driver settings. The engine itself takes functional
// options; Options translates a Config into them.
type Config struct {
	Catalog       string        `env:"PODWIRE_CATALOG"        envDefault:"messages.json"`
	DB            string        `env:"PODWIRE_DB"`
	Seed          int64         `env:"PODWIRE_SEED"           envDefault:"0"`
	Source        string        `env:"PODWIRE_SOURCE"         envDefault:"hash"`
	Interpolation string        `env:"PODWIRE_INTERPOLATION"  envDefault:"strict"`
	GuardWindow   int           `env:"PODWIRE_GUARD_WINDOW"   envDefault:"64"`
	MaxEmissions  int           `env:"PODWIRE_MAX_EMISSIONS"  envDefault:"0"`
	Workers       int           `env:"PODWIRE_WORKERS"        envDefault:"0"`
	Cron          string        `env:"PODWIRE_CRON"`
	Watch         bool          `env:"PODWIRE_WATCH"          envDefault:"true"`
	WatchDebounce time.Duration `env:"PODWIRE_WATCH_DEBOUNCE" envDefault:"300ms"`
	MetricsAddr   string        `env:"PODWIRE_METRICS_ADDR"`
	LogLevel      string        `env:"PODWIRE_LOG_LEVEL"      envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that env parsing accepts but the driver cannot use.
func (c Config) Validate() error {
	if _, err := interpolate.ParseMode(c.Interpolation); err != nil {
		return fmt.Errorf("PODWIRE_INTERPOLATION: %w", err)
	}
	if c.Source != SourceHash && c.Source != SourceStream {
		return fmt.Errorf("PODWIRE_SOURCE: must be %s or %s, got %q", SourceHash, SourceStream, c.Source)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("PODWIRE_LOG_LEVEL: %w", err)
	}
	if c.GuardWindow < 1 {
		return fmt.Errorf("PODWIRE_GUARD_WINDOW: must be at least 1, got %d", c.GuardWindow)
	}
	if c.MaxEmissions < 0 {
		return fmt.Errorf("PODWIRE_MAX_EMISSIONS: must not be negative, got %d", c.MaxEmissions)
	}
	if c.Workers < 0 {
		return fmt.Errorf("PODWIRE_WORKERS: must not be negative, got %d", c.Workers)
	}
	if c.Cron != "" && !gronx.New().IsValid(c.Cron) {
		return fmt.Errorf("PODWIRE_CRON: invalid cron expression %q", c.Cron)
	}
	return nil
}

// Options returns the engine options the config selects.
func (c Config) Options() []engine.EngineOption {
	mode, _ := interpolate.ParseMode(c.Interpolation)
	var src engine.Source = engine.HashSource{Seed: c.Seed}
	if c.Source == SourceStream {
		src = engine.NewStreamSource(uint64(c.Seed))
	}
	opts := []engine.EngineOption{
		engine.WithSource(src),
		engine.WithInterpolation(mode),
		engine.WithGuardWindow(c.GuardWindow),
	}
	if c.MaxEmissions > 0 {
		opts = append(opts, engine.WithMaxEmissionsPerPass(c.MaxEmissions))
	}
	if c.Workers > 0 {
		opts = append(opts, engine.WithWorkers(c.Workers))
	}
	return opts
}

// Level returns the configured log level. Invalid values fall back to info.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel converts debug, info, warn or error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
