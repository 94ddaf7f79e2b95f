package config

import (
	"log/slog"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - queue.go: SQS, consumer, worker pool and recovery store configuration
//   - analysis.go: Reasoning backend, analysis handler and image loading configuration
//   - database.go: Database and Redis configuration
//   - observability.go: Metrics and failure notification configuration
//   - services.go: Service mode configuration
type AppConfig struct {
	// LogLevel sets the minimum slog level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Queue    QueueConfig
	Consumer ConsumerConfig
	Worker   WorkerConfig
	Recovery RecoveryConfig

	LLM      LLMConfig
	Analysis AnalysisConfig
	Images   ImagesConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"consumer"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Queue.Sanitize()
	c.Consumer.Sanitize()
	c.Worker.Sanitize()
	c.Recovery.Sanitize()
	c.LLM.Sanitize()
	c.Analysis.Sanitize()
	c.Images.Sanitize()
	c.Postgres.Sanitize()
	c.Redis.Sanitize()
	c.Observability.Sanitize()
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsConsumerEnabled returns true if the queue consumer service is enabled.
func (c *AppConfig) IsConsumerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeConsumer]
}

// IsReplayerEnabled returns true if the periodic recovery replay service is enabled.
func (c *AppConfig) IsReplayerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReplayer]
}

// RedisRequired reports whether a Redis connection must be established at startup.
func (c *AppConfig) RedisRequired() bool {
	return c.Redis.Enabled || c.Recovery.UsesRedis()
}
