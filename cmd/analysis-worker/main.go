// Command analysis-worker consumes chart analysis jobs from SQS and publishes the results.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/target/chart-analysis-worker/config"
	"github.com/target/chart-analysis-worker/internal/bootstrap"
)

func main() {
	logger := bootstrap.InitLogger()
	if err := run(context.Background(), logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1) //nolint:forbidigo // non-zero status lets the orchestrator restart us
	}
}

func run(ctx context.Context, logger *slog.Logger) (err error) {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	bootstrap.SetLogLevel(cfg.SlogLevel())
	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting analysis worker",
		"services", bootstrap.GetEnabledServices(&cfg),
		"input_queue", cfg.Queue.InputQueueURL,
		"output_queue", cfg.Queue.OutputQueueURL,
		"recovery_store", cfg.Recovery.Store,
		"db_host", cfg.Postgres.Host,
	)

	infra, err := connect(&cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, infra.Close()) }()

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, infra.db, logger); err != nil {
			return err
		}
	}

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          infra.db,
		RedisClient: infra.redis,
		AWS:         awsCfg,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	// Flush buffered metrics after the consumer has drained.
	infra.closers = append(infra.closers, services.Observability.MetricsSink.Close)

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:   &cfg,
		Services: services,
		Logger:   logger,
	})
}

// infrastructure owns the long-lived connections. Close releases them in reverse order.
type infrastructure struct {
	db      *sql.DB
	redis   redis.UniversalClient
	closers []func() error
}

func (i *infrastructure) Close() error {
	var errs []error
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		errs = append(errs, i.closers[idx]())
	}
	return errors.Join(errs...)
}

// connect opens Postgres and, when the configuration needs it, Redis.
func connect(cfg *config.AppConfig, logger *slog.Logger) (*infrastructure, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	infra := &infrastructure{db: db, closers: []func() error{db.Close}}
	if !cfg.RedisRequired() {
		return infra, nil
	}

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("connect redis: %w", err), infra.Close())
	}
	infra.redis = client
	infra.closers = append(infra.closers, client.Close)
	return infra, nil
}
