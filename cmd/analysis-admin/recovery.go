package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/chart-analysis-worker/internal/bootstrap"
	"github.com/target/chart-analysis-worker/internal/data"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

type recoveryListOptions struct {
	Limit int
	JSON  bool
}

type recoveryPurgeOptions struct {
	DryRun bool
	Yes    bool
}

// recoveryRow is the printable view of a recovery entry.
type recoveryRow struct {
	MessageID  string    `json:"message_id"`
	GroupID    string    `json:"group_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	JobID      string    `json:"job_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	ActionType string    `json:"action_type,omitempty"`
	Malformed  bool      `json:"malformed,omitempty"`
}

func runRecoveryList(cmdCtx *commandContext, args []string) error {
	opts, err := parseRecoveryListFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	store, closeStore, err := openRecoveryStore(cmdCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, snapErr := store.Snapshot(ctx)
	if snapErr != nil && len(entries) == 0 {
		return fmt.Errorf("read recovery store: %w", snapErr)
	}
	if snapErr != nil {
		cmdCtx.Logger.Warn("some recovery entries could not be decoded", "error", snapErr)
	}

	rows := buildRecoveryRows(entries, opts.Limit)
	if opts.JSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return renderRecoveryRows(cmdCtx.Out, store.Key(), len(entries), rows)
}

func runRecoveryPurge(cmdCtx *commandContext, args []string) error {
	opts, err := parseRecoveryPurgeFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	store, closeStore, err := openRecoveryStore(cmdCtx)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.Len(ctx)
	if err != nil {
		return err
	}
	if opts.DryRun {
		return writef(cmdCtx.Out, "Dry run: %d recovery entries would be removed from %s\n", n, store.Key())
	}
	if n == 0 {
		return writef(cmdCtx.Out, "Recovery store %s is empty\n", store.Key())
	}
	if !opts.Yes {
		if confirmErr := confirm(cmdCtx.In, cmdCtx.Out, fmt.Sprintf("About to drop %d recovery entries from %s.", n, store.Key())); confirmErr != nil {
			return confirmErr
		}
	}

	removed, err := store.Purge(ctx)
	if err != nil {
		return err
	}
	cmdCtx.Logger.Info("recovery store purged", "key", store.Key(), "removed", removed)
	return writef(cmdCtx.Out, "Removed %d recovery entries\n", removed)
}

// openRecoveryStore connects to Redis and returns the store configured for the worker.
func openRecoveryStore(cmdCtx *commandContext) (*data.RedisRecoveryStore, func(), error) {
	if !cmdCtx.Config.Recovery.UsesRedis() {
		cmdCtx.Logger.Warn("RECOVERY_STORE is not redis; the in-memory store of a running worker cannot be inspected from here")
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cmdCtx.Config.Redis, Logger: cmdCtx.Logger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	closeFn := func() { closeRedis(cmdCtx, client) }
	return data.NewRedisRecoveryStore(client, cmdCtx.Config.Recovery.RedisKey), closeFn, nil
}

func closeRedis(cmdCtx *commandContext, client redis.UniversalClient) {
	if err := client.Close(); err != nil {
		cmdCtx.Logger.Warn("redis close failed", "error", err)
	}
}

func buildRecoveryRows(entries []model.Message, limit int) []recoveryRow {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	rows := make([]recoveryRow, 0, len(entries))
	for _, msg := range entries {
		row := recoveryRow{MessageID: msg.ID, GroupID: msg.GroupID, ReceivedAt: msg.ReceivedAt}
		job, err := model.ParseJob(msg.Body)
		if err != nil {
			row.Malformed = true
		} else {
			row.JobID = job.JobID
			row.Status = string(job.Status)
			row.ActionType = string(job.ActionType)
		}
		rows = append(rows, row)
	}
	return rows
}

func renderRecoveryRows(w io.Writer, key string, total int, rows []recoveryRow) error {
	if err := writef(w, "\nRecovery store %s: %d entries\n\n", key, total); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "MESSAGE ID\tRECEIVED\tJOB ID\tSTATUS\tACTION\tGROUP\n"); err != nil {
		return err
	}
	for _, r := range rows {
		jobID, status := r.JobID, r.Status
		if r.Malformed {
			jobID, status = "-", "malformed"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.MessageID, formatTimestamp(r.ReceivedAt), jobID, status, dash(r.ActionType), dash(r.GroupID)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseRecoveryListFlags(args []string) (recoveryListOptions, error) {
	fs := flag.NewFlagSet("recovery-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts recoveryListOptions
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum entries to print (0 for all)")
	fs.BoolVar(&opts.JSON, "json", false, "Print entries as JSON")

	if err := fs.Parse(args); err != nil {
		return recoveryListOptions{}, err
	}
	if opts.Limit < 0 {
		return recoveryListOptions{}, errors.New("--limit must be zero or greater")
	}
	return opts, nil
}

func parseRecoveryPurgeFlags(args []string) (recoveryPurgeOptions, error) {
	fs := flag.NewFlagSet("recovery-purge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts recoveryPurgeOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Report how many entries would be removed")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return recoveryPurgeOptions{}, err
	}
	return opts, nil
}

func confirm(in io.Reader, out io.Writer, warning string) error {
	if err := writef(out, "%s\n", warning); err != nil {
		return fmt.Errorf("print confirmation warning: %w", err)
	}
	if err := write(out, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
