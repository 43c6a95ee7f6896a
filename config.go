package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port               string   `env:"PORT" envDefault:"8095"`
	AllowedOrigins     []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	RequireOriginCheck bool     `env:"REQUIRE_ORIGIN_CHECK" envDefault:"true"`
	TrustedProxy       string   `env:"TRUSTED_PROXY"`
	MaxConnections     int      `env:"MAX_CONNECTIONS" envDefault:"1000"`
	MaxPendingEvents   int      `env:"MAX_PENDING_EVENTS" envDefault:"256"`
	EventsPerSecond    float64  `env:"EVENTS_PER_SECOND" envDefault:"20"`
	EventBurst         int      `env:"EVENT_BURST" envDefault:"40"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	HistoryDriver      string   `env:"HISTORY_DRIVER" envDefault:"postgres"`
	HistoryWorkers     int      `env:"HISTORY_WORKERS" envDefault:"4"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	origins := cfg.AllowedOrigins[:0]
	for _, o := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins
	cfg.TrustedProxy = strings.TrimSpace(cfg.TrustedProxy)

	if cfg.MaxConnections < 1 {
		return Config{}, fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxPendingEvents < 1 {
		return Config{}, fmt.Errorf("MAX_PENDING_EVENTS must be positive, got %d", cfg.MaxPendingEvents)
	}
	if cfg.HistoryWorkers < 1 {
		return Config{}, fmt.Errorf("HISTORY_WORKERS must be positive, got %d", cfg.HistoryWorkers)
	}
	switch cfg.HistoryDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("HISTORY_DRIVER must be postgres or sqlite, got %q", cfg.HistoryDriver)
	}
	return cfg, nil
}
