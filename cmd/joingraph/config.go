package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/randalmurphal/joingraph/internal/reservation"
	"github.com/randalmurphal/joingraph/pkg/joingraph"
	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/randalmurphal/joingraph/pkg/joingraph/config"
)

// envConfig is the environment the CLI reads.
type envConfig struct {
	// ConfigFile is an optional YAML or JSON file with "reservation" and
	// "run" sections.
	ConfigFile string `env:"JOINGRAPH_CONFIG"`

	LogLevel  string `env:"JOINGRAPH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"JOINGRAPH_LOG_FORMAT" envDefault:"text"`

	// Provider, Model and Database override the config file when set.
	Provider string `env:"JOINGRAPH_PROVIDER"`
	Model    string `env:"JOINGRAPH_MODEL"`
	Database string `env:"JOINGRAPH_DATABASE"`
	APIKey   string `env:"ANTHROPIC_API_KEY"`

	Timeout time.Duration `env:"JOINGRAPH_TIMEOUT" envDefault:"2m"`

	// OTelEndpoint receives spans, and metrics when Metrics is set.
	OTelEndpoint string `env:"JOINGRAPH_OTEL_ENDPOINT"`
	Metrics      bool   `env:"JOINGRAPH_METRICS" envDefault:"false"`

	Checkpoint checkpointConfig
}

// checkpointConfig selects where run checkpoints go.
type checkpointConfig struct {
	// Backend is none, memory, sqlite or redis.
	Backend    string        `env:"JOINGRAPH_CHECKPOINT" envDefault:"memory"`
	SQLitePath string        `env:"JOINGRAPH_SQLITE_PATH" envDefault:"joingraph.db"`
	RedisAddr  string        `env:"JOINGRAPH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass  string        `env:"JOINGRAPH_REDIS_PASS"`
	RedisDB    int           `env:"JOINGRAPH_REDIS_DB" envDefault:"0"`
	RedisTTL   time.Duration `env:"JOINGRAPH_REDIS_TTL" envDefault:"24h"`
}

func loadEnv() (envConfig, error) {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Metrics && cfg.OTelEndpoint == "" {
		return cfg, errors.New("JOINGRAPH_METRICS requires JOINGRAPH_OTEL_ENDPOINT")
	}
	return cfg, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// loadSettings reads the optional config file and applies env overrides.
func loadSettings(cfg envConfig) (reservation.Settings, []joingraph.RunOption, error) {
	file := config.New(nil)
	if cfg.ConfigFile != "" {
		var err error
		if file, err = config.FromFile(cfg.ConfigFile); err != nil {
			return reservation.Settings{}, nil, err
		}
	}

	settings, err := reservation.SettingsFromConfig(file.Sub("reservation"))
	if err != nil {
		return settings, nil, fmt.Errorf("reservation config: %w", err)
	}
	if cfg.Provider != "" {
		settings.Provider = cfg.Provider
	}
	if cfg.Model != "" {
		settings.Model = cfg.Model
	}
	if cfg.Database != "" {
		settings.Database = cfg.Database
	}
	settings.APIKey = cfg.APIKey

	opts, err := joingraph.OptionsFromConfig(file.Sub("run"))
	if err != nil {
		return settings, nil, fmt.Errorf("run config: %w", err)
	}
	return settings, opts, nil
}

// openStore returns the configured checkpoint store, or nil for "none".
func openStore(ctx context.Context, cfg checkpointConfig) (checkpoint.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "none", "":
		return nil, nil
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "sqlite":
		return checkpoint.NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return checkpoint.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB,
			checkpoint.WithRedisTTL(cfg.RedisTTL))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
