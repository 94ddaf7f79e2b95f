package bootstrap

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/chart-analysis-worker/config"
)

var logLevel = new(slog.LevelVar)

// InitLogger initializes the structured logger. The level starts at info and can be changed
// with SetLogLevel once configuration is loaded.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// SetLogLevel adjusts the level of loggers created by InitLogger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// LoadConfig reads configuration from the environment. A dotenv file (ENV_FILE, default .env)
// is applied first when present; variables already set in the environment win.
func LoadConfig() (config.AppConfig, error) {
	envFile := cmp.Or(os.Getenv("ENV_FILE"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.AppConfig{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := env.ParseAs[config.AppConfig]()
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and that the enabled
// services have what they need to run.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	var errs []error
	if services[config.ServiceModeConsumer] && cfg.Queue.InputQueueURL == "" {
		errs = append(errs, errors.New("consumer requires SQS_INPUT_QUEUE_URL"))
	}
	if cfg.Queue.OutputQueueURL == "" {
		errs = append(errs, errors.New("SQS_OUTPUT_QUEUE_URL is required"))
	}
	if cfg.LLM.APIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if services[config.ServiceModeReplayer] && cfg.Recovery.ReplayInterval <= 0 {
		errs = append(errs, errors.New("replayer requires RECOVERY_REPLAY_INTERVAL greater than zero"))
	}
	if services[config.ServiceModeReplayer] && !services[config.ServiceModeConsumer] && !cfg.Recovery.UsesRedis() {
		errs = append(errs, errors.New("a standalone replayer requires RECOVERY_STORE=redis"))
	}

	return errors.Join(errs...)
}

// GetEnabledServices returns the enabled service names in sorted order, or nothing when SERVICES
// does not parse.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return []string{}
	}
	names := make([]string, 0, len(services))
	for svc := range maps.Keys(services) {
		names = append(names, string(svc))
	}
	slices.Sort(names)
	return names
}
