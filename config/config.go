package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	PubSubProjectID       string `env:"PUBSUB_PROJECT_ID" validate:"required_unless=Env local"`
	PubSubSubscription    string `env:"PUBSUB_SUBSCRIPTION"`
	PubSubCredentialsPath string `env:"PUBSUB_CREDENTIALS_PATH"`

	MaxThreads             int `env:"MAX_THREADS" envDefault:"10" validate:"min=1,max=100"`
	PollingIntervalSeconds int `env:"POLLING_INTERVAL_SECONDS" envDefault:"10" validate:"min=1,max=300"`
	LeaseTimeoutSeconds    int `env:"LEASE_TIMEOUT_SECONDS" envDefault:"240" validate:"min=5"`

	APIPort     string `env:"API_PORT" envDefault:"8080" validate:"required"`
	APIUsername string `env:"API_USERNAME,required" validate:"required"`
	APIPassword string `env:"API_PASSWORD,required" validate:"required,min=8"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
}

func Load() (*Config, error) {
	// Best-effort .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
