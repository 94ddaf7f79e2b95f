package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/target/chart-analysis-worker/config"
	"github.com/target/chart-analysis-worker/internal/adapters/queuerunner"
	"golang.org/x/sync/errgroup"
)

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// replayRunner serialises recovery replays triggered from startup, signals and the interval
// service. A trigger that arrives while a replay is running is dropped.
type replayRunner struct {
	consumer interface {
		ReplaySafeStore(ctx context.Context) (queuerunner.ReplayReport, error)
	}
	logger  *slog.Logger
	running atomic.Bool
}

// trigger runs one replay pass and reports whether it ran.
func (r *replayRunner) trigger(ctx context.Context, reason string) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.InfoContext(ctx, "recovery replay already running; trigger ignored", "reason", reason)
		return false
	}
	defer r.running.Store(false)

	report, err := r.consumer.ReplaySafeStore(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.ErrorContext(ctx, "recovery replay failed", "reason", reason, "error", err)
		return true
	}
	r.logger.InfoContext(ctx, "recovery replay complete",
		"reason", reason,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return true
}

// every replays on each tick until ctx is done.
func (r *replayRunner) every(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("replay interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.trigger(ctx, "interval")
		}
	}
}

func newConsumerBackgroundService(cfg *ServiceOrchestrationConfig, replays *replayRunner) backgroundService {
	return backgroundService{
		mode: config.ServiceModeConsumer,
		name: "queue consumer",
		start: func(ctx context.Context) error {
			if cfg.Config.Recovery.ReplayOnStart {
				replays.trigger(ctx, "startup")
			}
			if !cfg.Services.Consumer.StartPolling(ctx, cfg.Config.Queue.InputQueueURL) {
				return errors.New("poll loop already running")
			}
			<-ctx.Done()
			return nil
		},
	}
}

func newReplayerBackgroundService(cfg *ServiceOrchestrationConfig, replays *replayRunner) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReplayer,
		name: "recovery replayer",
		start: func(ctx context.Context) error {
			return replays.every(ctx, cfg.Config.Recovery.ReplayInterval)
		},
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails. SIGUSR1 triggers
// a recovery store replay.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	if cfg.Services.Consumer == nil {
		return errors.New("service orchestration config missing consumer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replays := &replayRunner{consumer: cfg.Services.Consumer, logger: logger.With("component", "replay_runner")}
	g, gctx := errgroup.WithContext(serviceCtx)
	for _, svc := range []backgroundService{
		newConsumerBackgroundService(cfg, replays),
		newReplayerBackgroundService(cfg, replays),
	} {
		if !enabledServices[svc.mode] {
			continue
		}
		g.Go(func() error {
			if startErr := svc.start(gctx); startErr != nil {
				return fmt.Errorf("%s failed: %w", svc.name, startErr)
			}
			return nil
		})
		logger.InfoContext(serviceCtx, "background service started", "service", svc.name, "mode", svc.mode)
	}

	return waitForShutdown(shutdownConfig{
		ctx:      gctx,
		cancel:   cancel,
		group:    g,
		consumer: cfg.Services.Consumer,
		replays:  replays,
		logger:   logger,
	})
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	consumer *queuerunner.Consumer
	replays  *replayRunner
	logger   *slog.Logger
}

// waitForShutdown waits for a shutdown signal or service error, and runs replays on SIGUSR1.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	replay := make(chan os.Signal, 1)
	signal.Notify(replay, syscall.SIGUSR1)
	defer signal.Stop(replay)

	for {
		select {
		case <-quit:
			cfg.logger.Info("shutting down services...")
			cfg.cancel()
			return gracefulStop(cfg)
		case <-replay:
			go cfg.replays.trigger(cfg.ctx, "signal")
		case <-cfg.ctx.Done():
			// errgroup cancels its context when a service returns an error.
			cfg.cancel()
			stopErr := gracefulStop(cfg)
			if stopErr != nil {
				cfg.logger.Error("graceful stop failed", "error", stopErr)
			}
			return stopErr
		}
	}
}

// gracefulStop stops the poll loop, drains running workers and waits for background services.
func gracefulStop(cfg shutdownConfig) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
	defer cancel()

	var errs []error
	if cfg.consumer != nil {
		if err := cfg.consumer.StopPolling(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer: %w", err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- cfg.group.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
		cfg.logger.Info("background services stopped")
	case <-stopCtx.Done():
		cfg.logger.Warn("timeout waiting for background services to stop")
	}

	return errors.Join(errs...)
}
