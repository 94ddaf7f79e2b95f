package bootstrap

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	"github.com/target/chart-analysis-worker/config"
	"github.com/target/chart-analysis-worker/internal/adapters/gemini"
	"github.com/target/chart-analysis-worker/internal/adapters/queuerunner"
	"github.com/target/chart-analysis-worker/internal/adapters/s3images"
	"github.com/target/chart-analysis-worker/internal/adapters/sqstransport"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/data"
	"github.com/target/chart-analysis-worker/internal/observability/notify"
	"github.com/target/chart-analysis-worker/internal/observability/notify/pagerduty"
	"github.com/target/chart-analysis-worker/internal/observability/notify/slack"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
	"github.com/target/chart-analysis-worker/internal/service"
	"github.com/target/chart-analysis-worker/internal/service/analysis"
	"github.com/target/chart-analysis-worker/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Transport     *sqstransport.Transport
	Publisher     *service.QueuePublisher
	Handler       *analysis.Handler
	RecoveryStore core.RecoveryStore
	Consumer      *queuerunner.Consumer
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Sink returns the metrics sink, or nil when metrics are disabled.
//
//nolint:ireturn // callers treat a nil Sink as "metrics off".
func (o ObservabilityContainer) Sink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	AWS         aws.Config
	Logger      *slog.Logger
	// Metrics replaces the configured statsd sink when set.
	Metrics statsd.Sink
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	logger = cmp.Or(logger, slog.Default())
	obs := ObservabilityContainer{
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(logger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
	if !cfg.Metrics.IsEnabled() {
		return obs
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled:       true,
		Address:       cfg.Metrics.StatsdAddress,
		Prefix:        cfg.Metrics.Prefix,
		GlobalTags:    cfg.Metrics.Tags,
		FlushInterval: cfg.Metrics.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		// Metrics are best effort; the worker runs without them.
		logger.Error("statsd client disabled", "address", cfg.Metrics.StatsdAddress, "error", err)
		return obs
	}
	obs.MetricsSink = client
	return obs
}

// buildFailureNotifier registers each enabled sink that initialises. A sink that fails to build
// is logged and skipped.
func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	logger = cmp.Or(logger, slog.Default())
	opts := failurenotifier.Options{
		Logger:       logger.With("component", "failure_notifier"),
		RepeatWindow: cfg.RepeatWindow,
	}
	if !cfg.Enabled {
		return failurenotifier.NewService(opts)
	}

	builders := []struct {
		name    string
		enabled bool
		build   func() (notify.Sink, error)
	}{
		{"slack", cfg.Slack.Enabled, func() (notify.Sink, error) {
			return slack.NewClient(slack.Config{
				WebhookURL:   cfg.Slack.WebhookURL,
				Channel:      cfg.Slack.Channel,
				Username:     cfg.Slack.Username,
				JobURLPrefix: cfg.Slack.JobURLPrefix,
				Timeout:      cfg.Timeout,
				RetryLimit:   cfg.RetryLimit,
			})
		}},
		{"pagerduty", cfg.PagerDuty.Enabled, func() (notify.Sink, error) {
			return pagerduty.NewClient(pagerduty.Config{
				RoutingKey: cfg.PagerDuty.RoutingKey,
				Source:     cfg.PagerDuty.Source,
				Component:  cfg.PagerDuty.Component,
				Timeout:    cfg.Timeout,
				RetryLimit: cfg.RetryLimit,
			})
		}},
	}
	for _, b := range builders {
		if !b.enabled {
			continue
		}
		sink, err := b.build()
		if err != nil {
			logger.Error("failure notification sink disabled", "sink", b.name, "error", err)
			continue
		}
		opts.Sinks = append(opts.Sinks, failurenotifier.SinkRegistration{Name: b.name, Sink: sink})
	}
	return failurenotifier.NewService(opts)
}

// buildRecoveryStore selects the recovery store backend. The memory store is the default; the
// Redis store needs a connected client.
//
//nolint:ireturn // the backend is chosen at runtime.
func buildRecoveryStore(cfg config.RecoveryConfig, client redis.UniversalClient, logger *slog.Logger) (core.RecoveryStore, error) {
	if !cfg.UsesRedis() {
		logger.Info("using in-memory recovery store; entries do not survive a restart")
		return data.NewMemoryRecoveryStore(), nil
	}
	if client == nil {
		return nil, errors.New("RECOVERY_STORE=redis requires a redis connection")
	}
	logger.Info("using redis recovery store", "key", cfg.RedisKey)
	return data.NewRedisRecoveryStore(client, cfg.RedisKey), nil
}

// NewServices wires transports, repositories, the analysis handler and the queue consumer.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability)
	sink := observability.Sink()
	if deps.Metrics != nil {
		sink = deps.Metrics
	}

	transport, err := sqstransport.NewFromConfig(deps.AWS, cfg.Queue.Endpoint, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build sqs transport: %w", err)
	}

	publisher := service.NewQueuePublisher(service.QueuePublisherOptions{
		Transport: transport,
		Config: service.QueuePublisherConfig{
			InputQueueURL:            cfg.Queue.InputQueueURL,
			OutputQueueURL:           cfg.Queue.OutputQueueURL,
			GenerateDeduplicationIDs: cfg.Queue.GenerateDedupIDs,
		},
		Logger:  logger,
		Metrics: sink,
	})

	images, err := s3images.NewFromConfig(deps.AWS, cfg.Images.S3Endpoint, s3images.Options{
		MaxBytes:    cfg.Images.MaxBytes,
		Concurrency: cfg.Images.Concurrency,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build image loader: %w", err)
	}

	backend, err := gemini.New(ctx, gemini.Options{
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		SignalModel:    cfg.LLM.SignalModel,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		Logger:         logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reasoning backend: %w", err)
	}

	handler, err := analysis.NewHandler(analysis.HandlerOptions{
		Backend:       backend,
		Images:        images,
		Conversations: data.NewConversationRepo(deps.DB),
		Publisher:     publisher,
		Credits:       data.NewUserRepo(deps.DB),
		Config: analysis.Config{
			ReasoningModel:    cfg.LLM.Model,
			ConsensusModels:   cfg.LLM.ConsensusModels,
			FollowupQuestions: cfg.Analysis.FollowupQuestions,
			SignalPath:        cfg.Analysis.SignalPath,
			CreditCost:        cfg.Analysis.CreditCost,
		},
		Logger:  logger,
		Metrics: sink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build analysis handler: %w", err)
	}

	store, err := buildRecoveryStore(cfg.Recovery, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	consumer, err := newConsumer(cfg, consumerDeps{
		transport: transport,
		handler:   handler,
		store:     store,
		logger:    logger,
		metrics:   sink,
		notifier:  observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Transport:     transport,
		Publisher:     publisher,
		Handler:       handler,
		RecoveryStore: store,
		Consumer:      consumer,
		Observability: observability,
	}, nil
}

type consumerDeps struct {
	transport core.QueueTransport
	handler   core.JobHandler
	store     core.RecoveryStore
	logger    *slog.Logger
	metrics   statsd.Sink
	notifier  *failurenotifier.Service
}

func newConsumer(cfg *config.AppConfig, deps consumerDeps) (*queuerunner.Consumer, error) {
	pool := queuerunner.NewWorkerPool(queuerunner.WorkerPoolOptions{
		Logger:          deps.logger,
		Headroom:        cfg.Worker.CoreHeadroom,
		RecheckInterval: cfg.Worker.RecheckInterval,
		Metrics:         deps.metrics,
	})

	consumer, err := queuerunner.NewConsumer(queuerunner.ConsumerOptions{
		Transport:         deps.transport,
		Handler:           deps.handler,
		Store:             deps.store,
		Pool:              pool,
		Logger:            deps.logger,
		MaxMessages:       cfg.Queue.MaxMessages,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		WaitTime:          cfg.Queue.WaitTime,
		PollInterval:      cfg.Consumer.PollInterval,
		ErrorBackoff:      cfg.Consumer.ErrorBackoff,
		StopTimeout:       cfg.Consumer.StopTimeout,
		RestartCooldown:   cfg.Consumer.RestartCooldown,
		DropMalformed:     !cfg.Recovery.KeepMalformed,
		Metrics:           deps.metrics,
		FailureNotifier:   deps.notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("build queue consumer: %w", err)
	}
	return consumer, nil
}
