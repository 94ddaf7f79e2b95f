package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/chart-analysis-worker/internal/adapters/queuerunner"
	"github.com/target/chart-analysis-worker/internal/bootstrap"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

const defaultReplayTimeout = 30 * time.Minute

type recoveryReplayOptions struct {
	Timeout time.Duration
	JSON    bool
	Force   bool
}

// errWorkerMayBeRunning guards recovery-replay. A running worker's in-flight set lives in its own
// process, so a replay from here would rerun jobs that worker is still handling.
var errWorkerMayBeRunning = errors.New(
	"recovery-replay reprocesses entries a running worker may still be handling; stop every worker, then rerun with --force")

// replayOutput is what recovery-replay prints with --json.
type replayOutput struct {
	Report  queuerunner.ReplayReport `json:"report"`
	Metrics []countLine              `json:"metrics"`
}

type countLine struct {
	Name  string            `json:"name"`
	Tags  map[string]string `json:"tags,omitempty"`
	Total int64             `json:"total"`
}

// runRecoveryReplay drives one replay pass over the Redis recovery store with the worker's own
// handler. Workers sharing the store must be stopped first.
func runRecoveryReplay(cmdCtx *commandContext, args []string) error {
	opts, err := parseRecoveryReplayFlags(args)
	if err != nil {
		return err
	}
	if !opts.Force {
		return errWorkerMayBeRunning
	}
	if !cmdCtx.Config.Recovery.UsesRedis() {
		return errors.New("recovery-replay needs RECOVERY_STORE=redis; an in-memory store only exists inside the worker")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cmdCtx.Config.Postgres, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cmdCtx.Config.Redis, Logger: cmdCtx.Logger})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer closeRedis(cmdCtx, client)

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cmdCtx.Config.Queue)
	if err != nil {
		return err
	}

	recorder := &statsd.Recorder{}
	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: client,
		AWS:         awsCfg,
		Logger:      cmdCtx.Logger,
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		if closeErr := services.Observability.MetricsSink.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("metrics close failed", "error", closeErr)
		}
	}()

	report, replayErr := services.Consumer.ReplaySafeStore(ctx)
	out := replayOutput{Report: report, Metrics: summarizeCounts(recorder.Metrics())}
	if opts.JSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			return errors.Join(replayErr, encErr)
		}
		return replayErr
	}
	if renderErr := renderReplay(cmdCtx.Out, out); renderErr != nil {
		return errors.Join(replayErr, renderErr)
	}
	return replayErr
}

func parseRecoveryReplayFlags(args []string) (recoveryReplayOptions, error) {
	fs := flag.NewFlagSet("recovery-replay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts recoveryReplayOptions
	fs.DurationVar(&opts.Timeout, "timeout", defaultReplayTimeout, "Maximum duration of the replay pass")
	fs.BoolVar(&opts.JSON, "json", false, "Print the report as JSON")
	fs.BoolVar(&opts.Force, "force", false, "Confirm that no worker is consuming from the same recovery store")

	if err := fs.Parse(args); err != nil {
		return recoveryReplayOptions{}, err
	}
	if opts.Timeout <= 0 {
		return recoveryReplayOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

// summarizeCounts totals counters by name and tag set, in a stable order.
func summarizeCounts(ms []statsd.Metric) []countLine {
	totals := make(map[string]*countLine)
	for _, m := range ms {
		if m.Kind != "count" {
			continue
		}
		key := m.Name + "|" + formatTagSet(m.Tags)
		line, ok := totals[key]
		if !ok {
			line = &countLine{Name: m.Name, Tags: m.Tags}
			totals[key] = line
		}
		line.Total += int64(m.Value)
	}
	out := make([]countLine, 0, len(totals))
	for _, key := range slices.Sorted(maps.Keys(totals)) {
		out = append(out, *totals[key])
	}
	return out
}

func formatTagSet(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

func renderReplay(w io.Writer, out replayOutput) error {
	r := out.Report
	if err := writef(w, "\nReplayed %d entries: %d succeeded, %d failed, %d malformed, %d skipped\n",
		r.Total, r.Succeeded, r.Failed, r.Malformed, r.Skipped); err != nil {
		return err
	}
	if len(out.Metrics) == 0 {
		return nil
	}
	if err := writef(w, "\n"); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "METRIC\tTAGS\tTOTAL\n"); err != nil {
		return err
	}
	for _, line := range out.Metrics {
		if err := writef(tw, "%s\t%s\t%d\n", line.Name, dash(formatTagSet(line.Tags)), line.Total); err != nil {
			return err
		}
	}
	return tw.Flush()
}
