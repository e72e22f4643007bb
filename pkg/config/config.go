// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration for the soundmirror command.
type Config struct {
	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Cache backend selection: "sqlite" or "redis". An empty CachePath
	// with the sqlite backend uses a temp-file database.
	CacheBackend string        `env:"CACHE_BACKEND" envDefault:"sqlite"`
	CachePath    string        `env:"CACHE_PATH"`
	CacheExpiry  time.Duration `env:"CACHE_EXPIRY" envDefault:"168h"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// Remote API
	APIToken string `env:"API_TOKEN"`

	// Retry/backoff
	BackoffStart  time.Duration `env:"BACKOFF_START" envDefault:"200ms"`
	BackoffFactor float64       `env:"BACKOFF_FACTOR" envDefault:"1.932"`
	BackoffCount  int           `env:"BACKOFF_COUNT" envDefault:"10"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
