package config

import (
	"strings"
	"time"
)

// DBConfig holds the Postgres connection (read with the DB_ prefix). The pool is sized for a
// worker whose concurrency is bounded by the core count, not for a request-serving API.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"analysis"`
	Password string `env:"PASSWORD" envDefault:"analysis"`
	Name     string `env:"NAME"     envDefault:"analysis"`
	// SSLMode is "disable" for local dev and "require" or stricter in production.
	SSLMode string `env:"SSL_MODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS"    envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS"    envDefault:"4"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`

	// RunMigrationsOnStart applies pending migrations before the worker starts consuming.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"false"`
}

// Sanitize keeps the pool limits consistent.
func (c *DBConfig) Sanitize() {
	c.Host = strings.TrimSpace(c.Host)
	c.MaxOpenConns = max(c.MaxOpenConns, 1)
	c.MaxIdleConns = min(max(c.MaxIdleConns, 0), c.MaxOpenConns)
	if c.ConnMaxLifetime < 0 {
		c.ConnMaxLifetime = 0
	}
}

// RedisConfig holds the Redis connection (read with the REDIS_ prefix). Cluster mode wins
// over sentinel, which wins over a direct URI.
type RedisConfig struct {
	// Enabled connects at startup. It is implied by RECOVERY_STORE=redis.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0"`

	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"`

	UseCluster   bool     `env:"USE_CLUSTER"   envDefault:"false"`
	ClusterNodes []string `env:"CLUSTER_NODES"`
}

// Sanitize trims node lists and drops empty entries.
func (c *RedisConfig) Sanitize() {
	c.URI = strings.TrimSpace(c.URI)
	c.SentinelNodes = trimNonEmpty(c.SentinelNodes)
	c.ClusterNodes = trimNonEmpty(c.ClusterNodes)
	c.DB = max(c.DB, 0)
}
