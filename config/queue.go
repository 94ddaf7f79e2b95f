package config

import (
	"strings"
	"time"
)

// SQS service limits.
const (
	maxReceiveMessages = 10
	maxWaitTime        = 20 * time.Second
	maxVisibility      = 12 * time.Hour
)

// QueueConfig describes the SQS queues the worker reads from and publishes to.
type QueueConfig struct {
	Region string `env:"SQS_REGION" envDefault:"us-east-1"`
	// Endpoint overrides the SQS endpoint (LocalStack, ElasticMQ).
	Endpoint       string `env:"SQS_ENDPOINT"`
	InputQueueURL  string `env:"SQS_INPUT_QUEUE_URL"`
	OutputQueueURL string `env:"SQS_OUTPUT_QUEUE_URL"`

	MaxMessages       int32         `env:"SQS_MAX_MESSAGES"       envDefault:"5"`
	VisibilityTimeout time.Duration `env:"SQS_VISIBILITY_TIMEOUT" envDefault:"300s"`
	WaitTime          time.Duration `env:"SQS_WAIT_TIME"          envDefault:"1s"`

	// GenerateDedupIDs attaches a random deduplication id to published messages.
	GenerateDedupIDs bool `env:"SQS_GENERATE_DEDUP_IDS" envDefault:"true"`
}

// Sanitize clamps queue settings to the ranges SQS accepts.
func (c *QueueConfig) Sanitize() {
	c.Region = strings.TrimSpace(c.Region)
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.InputQueueURL = strings.TrimSpace(c.InputQueueURL)
	c.OutputQueueURL = strings.TrimSpace(c.OutputQueueURL)

	if c.MaxMessages < 1 {
		c.MaxMessages = 1
	}
	if c.MaxMessages > maxReceiveMessages {
		c.MaxMessages = maxReceiveMessages
	}
	if c.WaitTime < 0 {
		c.WaitTime = 0
	}
	if c.WaitTime > maxWaitTime {
		c.WaitTime = maxWaitTime
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 300 * time.Second
	}
	if c.VisibilityTimeout > maxVisibility {
		c.VisibilityTimeout = maxVisibility
	}
}

// ConsumerConfig controls the polling loop timing.
type ConsumerConfig struct {
	PollInterval    time.Duration `env:"CONSUMER_POLL_INTERVAL"    envDefault:"500ms"`
	ErrorBackoff    time.Duration `env:"CONSUMER_ERROR_BACKOFF"    envDefault:"5s"`
	StopTimeout     time.Duration `env:"CONSUMER_STOP_TIMEOUT"     envDefault:"5s"`
	RestartCooldown time.Duration `env:"CONSUMER_RESTART_COOLDOWN" envDefault:"10s"`
}

// Sanitize restores defaults for non-positive durations.
func (c *ConsumerConfig) Sanitize() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = 10 * time.Second
	}
}

// WorkerConfig controls the worker pool admission limit.
type WorkerConfig struct {
	// CoreHeadroom is subtracted from the available cores: limit = max(1, cores-headroom).
	CoreHeadroom    int           `env:"WORKER_CORE_HEADROOM"    envDefault:"2"`
	RecheckInterval time.Duration `env:"WORKER_RECHECK_INTERVAL" envDefault:"100ms"`
}

// Sanitize applies guardrails to worker settings.
func (c *WorkerConfig) Sanitize() {
	if c.CoreHeadroom < 1 {
		c.CoreHeadroom = 2
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = 100 * time.Millisecond
	}
}

// RecoveryStoreKind selects the RecoveryStore backend.
type RecoveryStoreKind string

const (
	// RecoveryStoreMemory keeps entries in process memory.
	RecoveryStoreMemory RecoveryStoreKind = "memory"
	// RecoveryStoreRedis keeps entries in a Redis hash that survives restarts.
	RecoveryStoreRedis RecoveryStoreKind = "redis"
)

// DefaultRecoveryRedisKey is the hash holding recovery entries when the Redis backend is used.
const DefaultRecoveryRedisKey = "analysis:recovery"

// RecoveryConfig controls the recovery store and replay behaviour.
type RecoveryConfig struct {
	Store RecoveryStoreKind `env:"RECOVERY_STORE" envDefault:"memory"`
	// KeepMalformed leaves unparseable entries in the store for inspection.
	KeepMalformed bool `env:"RECOVERY_KEEP_MALFORMED" envDefault:"true"`
	// ReplayOnStart replays the store once before polling begins.
	ReplayOnStart bool `env:"RECOVERY_REPLAY_ON_START" envDefault:"false"`
	// ReplayInterval drives the replayer service; zero disables it.
	ReplayInterval time.Duration `env:"RECOVERY_REPLAY_INTERVAL" envDefault:"0"`
	RedisKey       string        `env:"RECOVERY_REDIS_KEY"       envDefault:"analysis:recovery"`
}

// Sanitize normalises the store kind and replay settings.
func (c *RecoveryConfig) Sanitize() {
	c.Store = RecoveryStoreKind(strings.ToLower(strings.TrimSpace(string(c.Store))))
	if c.Store != RecoveryStoreRedis {
		c.Store = RecoveryStoreMemory
	}
	if c.ReplayInterval < 0 {
		c.ReplayInterval = 0
	}
	if c.RedisKey = strings.TrimSpace(c.RedisKey); c.RedisKey == "" {
		c.RedisKey = DefaultRecoveryRedisKey
	}
}

// UsesRedis reports whether the Redis-backed store is selected.
func (c *RecoveryConfig) UsesRedis() bool {
	return c.Store == RecoveryStoreRedis
}
