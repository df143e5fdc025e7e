package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the gateway. Extend as needed.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Default model sent to backends unless the request overrides it.
	ModelName string `env:"MODEL_NAME" envDefault:"gemma:2b"`

	// Backend tiers, highest trust first. A tier with no URL is skipped.
	OllamaURL     string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaTimeout time.Duration `env:"OLLAMA_TIMEOUT" envDefault:"30s"`

	CloudURL     string        `env:"CLOUD_URL"`
	CloudAPIKey  string        `env:"CLOUD_API_KEY"`
	CloudDialect string        `env:"CLOUD_DIALECT" envDefault:"cloud"` // "cloud" or "openai"
	CloudTimeout time.Duration `env:"CLOUD_TIMEOUT" envDefault:"30s"`

	FallbackURL     string        `env:"FALLBACK_URL"`
	FallbackTimeout time.Duration `env:"FALLBACK_TIMEOUT" envDefault:"10s"`

	// Health probing
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"30s"`
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`

	// Circuit breaker
	BreakerThreshold   int           `env:"BREAKER_THRESHOLD" envDefault:"3"`
	BreakerBaseBackoff time.Duration `env:"BREAKER_BASE_BACKOFF" envDefault:"10s"`
	BreakerMaxBackoff  time.Duration `env:"BREAKER_MAX_BACKOFF" envDefault:"5m"`

	// Answer cache (optional; no-op when REDIS_ADDR is empty)
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	AnswerTTL     time.Duration `env:"ANSWER_TTL" envDefault:"10m"`

	// History store (optional; no-op when DB_URL is empty)
	DBURL string `env:"DB_URL"`

	// Attempt event publishing (optional; no-op when QUEUE_URL is empty)
	QueueURL string `env:"QUEUE_URL"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
