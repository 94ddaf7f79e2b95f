// Package queuerunner consumes analysis jobs from the input queue with immediate-delete semantics
// and runs them on a CPU-bounded worker pool.
package queuerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
	obserrors "github.com/target/chart-analysis-worker/internal/observability/errors"
	"github.com/target/chart-analysis-worker/internal/observability/metrics"
	"github.com/target/chart-analysis-worker/internal/observability/notify"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
	"github.com/target/chart-analysis-worker/internal/service/failurenotifier"
)

const (
	defaultMaxMessages       = 5
	defaultVisibilityTimeout = 300 * time.Second
	defaultWaitTime          = time.Second
	defaultPollInterval      = 500 * time.Millisecond
	defaultErrorBackoff      = 5 * time.Second
	defaultStopTimeout       = 5 * time.Second
	defaultRestartCooldown   = 10 * time.Second
)

var (
	// ErrNilJobResult is returned when the handler reports success without a job.
	ErrNilJobResult = errors.New("handler returned no job")
	// ErrRecordFailed wraps recovery store write failures; the message is left on the queue.
	ErrRecordFailed = errors.New("record message for recovery")
)

// ConsumerOptions configures a Consumer.
type ConsumerOptions struct {
	Transport core.QueueTransport
	Handler   core.JobHandler
	Store     core.RecoveryStore
	Pool      *WorkerPool
	Logger    *slog.Logger

	MaxMessages       int32
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	StopTimeout       time.Duration
	RestartCooldown   time.Duration

	// DropMalformed removes entries whose body cannot be parsed instead of keeping them for
	// inspection.
	DropMalformed bool

	// Optional dependency injections
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// ReplayReport summarises a recovery replay pass.
type ReplayReport struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Malformed int `json:"malformed"`
	Skipped   int `json:"skipped"`
}

// Consumer polls a single queue URL, deletes every message as soon as it is recorded in the
// recovery store, and processes it on the worker pool. Entries leave the store only when the
// handler succeeds.
type Consumer struct {
	transport core.QueueTransport
	handler   core.JobHandler
	store     core.RecoveryStore
	pool      *WorkerPool
	logger    *slog.Logger
	metrics   statsd.Sink
	notifier  *failurenotifier.Service

	maxMessages       int32
	visibilityTimeout time.Duration
	waitTime          time.Duration
	pollInterval      time.Duration
	errorBackoff      time.Duration
	stopTimeout       time.Duration
	restartCooldown   time.Duration
	dropMalformed     bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// NewConsumer validates options and constructs a Consumer.
func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Transport == nil {
		return nil, errors.New("queue transport is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("job handler is required")
	}
	if opts.Store == nil {
		return nil, errors.New("recovery store is required")
	}

	logger := resolveLogger(opts.Logger).With("component", "queue_consumer")
	pool := opts.Pool
	if pool == nil {
		pool = NewWorkerPool(WorkerPoolOptions{Logger: opts.Logger, Metrics: opts.Metrics})
	}

	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}

	return &Consumer{
		transport:         opts.Transport,
		handler:           opts.Handler,
		store:             opts.Store,
		pool:              pool,
		logger:            logger,
		metrics:           opts.Metrics,
		notifier:          opts.FailureNotifier,
		maxMessages:       maxMessages,
		visibilityTimeout: durationOr(opts.VisibilityTimeout, defaultVisibilityTimeout),
		waitTime:          durationOr(opts.WaitTime, defaultWaitTime),
		pollInterval:      durationOr(opts.PollInterval, defaultPollInterval),
		errorBackoff:      durationOr(opts.ErrorBackoff, defaultErrorBackoff),
		stopTimeout:       durationOr(opts.StopTimeout, defaultStopTimeout),
		restartCooldown:   durationOr(opts.RestartCooldown, defaultRestartCooldown),
		dropMalformed:     opts.DropMalformed,
		inflight:          make(map[string]struct{}),
	}, nil
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

// Pool exposes the worker pool for shutdown coordination.
func (c *Consumer) Pool() *WorkerPool { return c.pool }

// StartPolling launches a supervised poll loop for queueURL in the background. It returns false
// without side effects when a loop is already running on this consumer.
func (c *Consumer) StartPolling(ctx context.Context, queueURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.logger.WarnContext(ctx, "poll loop already running; ignoring start", "queue_url", queueURL)
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.loopDone = done

	go func() {
		defer close(done)
		c.Supervise(loopCtx, queueURL)
	}()
	return true
}

// StopPolling stops the background loop, waits up to the stop timeout for it to exit, then
// waits up to the stop timeout for running workers. In-flight jobs are never cancelled.
func (c *Consumer) StopPolling(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.loopDone
	c.cancel, c.loopDone = nil, nil
	c.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		timer := time.NewTimer(c.stopTimeout)
		select {
		case <-done:
		case <-timer.C:
			errs = append(errs, errors.New("poll loop did not stop within timeout"))
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		timer.Stop()
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, c.stopTimeout)
	defer waitCancel()
	if err := c.pool.WaitForAll(waitCtx); err != nil {
		c.logger.WarnContext(ctx, "workers still running after stop timeout", "active", c.pool.ActiveCount())
		errs = append(errs, fmt.Errorf("wait for workers: %w", err))
	}
	return errors.Join(errs...)
}

// Supervise runs the poll loop and restarts it after the restart cooldown whenever it fails,
// until ctx is done.
func (c *Consumer) Supervise(ctx context.Context, queueURL string) {
	for {
		err := c.Run(ctx, queueURL)
		if ctx.Err() != nil {
			return
		}
		c.logger.ErrorContext(ctx, "poll loop terminated; restarting after cooldown",
			"queue_url", queueURL, "error", err, "cooldown", c.restartCooldown)
		c.count("consumer.restart", nil)
		if !sleepCtx(ctx, c.restartCooldown) {
			return
		}
	}
}

// Run polls queueURL until ctx is done. It returns nil on cancellation and an error only when
// the loop itself fails.
func (c *Consumer) Run(ctx context.Context, queueURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll loop panic: %v", r)
		}
	}()

	c.logger.InfoContext(ctx, "starting poll loop", "queue_url", queueURL,
		"max_messages", c.maxMessages, "admission_limit", c.pool.AdmissionLimit())

	for ctx.Err() == nil {
		msgs, rerr := c.receive(ctx, queueURL)
		if rerr != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.WarnContext(ctx, "receive failed; backing off", "queue_url", queueURL, "error", rerr, "backoff", c.errorBackoff)
			if !sleepCtx(ctx, c.errorBackoff) {
				break
			}
			continue
		}

		for _, msg := range msgs {
			if _, serr := c.pool.Submit(ctx, c.messageTask(queueURL, msg)); serr != nil {
				// Not yet recorded or deleted; the transport redelivers it after the visibility timeout.
				c.logger.InfoContext(ctx, "stopped before admitting message", "message_id", msg.ID, "error", serr)
				break
			}
		}

		if !sleepCtx(ctx, c.pollInterval) {
			break
		}
	}

	c.logger.InfoContext(ctx, "poll loop stopped", "queue_url", queueURL)
	return nil
}

func (c *Consumer) messageTask(queueURL string, msg model.Message) Task {
	return Task{
		Label: msg.ID,
		Run: func(ctx context.Context) error {
			return c.ProcessOneMessage(ctx, queueURL, msg)
		},
	}
}

// ReceiveMessages long-polls queueURL for up to the configured batch size. Transport errors are
// logged and yield an empty batch.
func (c *Consumer) ReceiveMessages(ctx context.Context, queueURL string) []model.Message {
	msgs, err := c.receive(ctx, queueURL)
	if err != nil {
		c.logger.WarnContext(ctx, "receive failed", "queue_url", queueURL, "error", err)
		return nil
	}
	return msgs
}

func (c *Consumer) receive(ctx context.Context, queueURL string) ([]model.Message, error) {
	msgs, err := c.transport.Receive(ctx, core.ReceiveParams{
		QueueURL:          queueURL,
		MaxMessages:       c.maxMessages,
		VisibilityTimeout: c.visibilityTimeout,
		WaitTime:          c.waitTime,
	})
	if err != nil {
		c.count("consumer.receive", map[string]string{"result": metrics.ResultError, "error_class": obserrors.Classify(err)})
		return nil, err
	}
	if len(msgs) > 0 {
		c.count("consumer.receive", map[string]string{"result": metrics.ResultSuccess})
		c.logger.DebugContext(ctx, "received messages", "count", len(msgs))
	}

	now := time.Now()
	for i := range msgs {
		if msgs[i].ReceivedAt.IsZero() {
			msgs[i].ReceivedAt = now
		}
	}
	return msgs, nil
}

// ProcessOneMessage records msg in the recovery store, deletes it from the transport, then parses
// and handles the job. The recovery entry is removed only when the handler succeeds.
func (c *Consumer) ProcessOneMessage(ctx context.Context, queueURL string, msg model.Message) error {
	// Marked before the entry becomes visible to a snapshot, so a concurrent replay skips it.
	c.markInflight(msg.ID)
	defer c.clearInflight(msg.ID)

	if err := c.store.Put(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to record message; leaving it on the queue",
			"message_id", msg.ID, "error", err)
		return fmt.Errorf("%w %s: %w", ErrRecordFailed, msg.ID, err)
	}
	c.gaugePending(ctx)

	c.deleteFromQueue(ctx, queueURL, msg)

	_, err := c.process(ctx, msg, "process")
	return err
}

func (c *Consumer) deleteFromQueue(ctx context.Context, queueURL string, msg model.Message) {
	if msg.AckToken == "" {
		c.logger.WarnContext(ctx, "message has no receipt handle; skipping delete", "message_id", msg.ID)
		return
	}
	if err := c.transport.Delete(ctx, queueURL, msg.AckToken); err != nil {
		c.logger.ErrorContext(ctx, "failed to delete message from queue", "message_id", msg.ID, "error", err)
		c.count("consumer.delete", map[string]string{"result": metrics.ResultError})
		return
	}
	c.count("consumer.delete", map[string]string{"result": metrics.ResultSuccess})
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeMalformed
)

// process parses and handles a recorded message. It never touches the transport.
func (c *Consumer) process(ctx context.Context, msg model.Message, transition string) (outcome, error) {
	start := time.Now()

	job, err := model.ParseJob(msg.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "malformed message body", "message_id", msg.ID, "error", err, "dropped", c.dropMalformed)
		if c.dropMalformed {
			c.remove(ctx, msg.ID)
		}
		metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
			JobType: "unknown", Transition: transition, Result: metrics.ResultError, Err: err,
		})
		return outcomeMalformed, fmt.Errorf("parse message %s: %w", msg.ID, err)
	}

	logger := c.logger.With("message_id", msg.ID, "job_id", job.JobID, "action_type", job.ActionType)
	jobType := string(job.ActionType)
	if jobType == "" {
		jobType = "unknown"
	}

	if herr := c.invoke(ctx, job); herr != nil {
		metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
			JobType: jobType, Transition: transition, Result: metrics.ResultError,
			Duration: time.Since(start), Err: herr,
		})
		c.notifyFailure(ctx, msg, job, transition, herr)
		return outcomeFailed, fmt.Errorf("handle job %s: %w", job.JobID, herr)
	}

	c.remove(ctx, msg.ID)
	metrics.EmitJobLifecycle(c.metrics, metrics.JobMetric{
		JobType: jobType, Transition: transition, Result: metrics.ResultSuccess, Duration: time.Since(start),
	})
	logger.InfoContext(ctx, "job processed", "duration", time.Since(start))
	return outcomeSucceeded, nil
}

func (c *Consumer) invoke(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	out, err := c.handler.Handle(ctx, job)
	if err != nil {
		return err
	}
	if out == nil {
		return ErrNilJobResult
	}
	return nil
}

func (c *Consumer) remove(ctx context.Context, id string) {
	if err := c.store.Remove(ctx, id); err != nil {
		c.logger.ErrorContext(ctx, "failed to remove recovery entry; it will be replayed", "message_id", id, "error", err)
	}
	c.gaugePending(ctx)
}

// ReplaySafeStore reprocesses a snapshot of the recovery store, removing each entry whose handler
// succeeds. Entries currently being processed by a worker are skipped. The transport is not
// touched.
func (c *Consumer) ReplaySafeStore(ctx context.Context) (ReplayReport, error) {
	entries, snapErr := c.store.Snapshot(ctx)
	if snapErr != nil && len(entries) == 0 {
		return ReplayReport{}, fmt.Errorf("snapshot recovery store: %w", snapErr)
	}

	report := ReplayReport{Total: len(entries)}
	c.logger.InfoContext(ctx, "replaying recovery store", "entries", report.Total)

	for _, msg := range entries {
		if ctx.Err() != nil {
			break
		}
		if !c.claimForReplay(msg.ID) {
			report.Skipped++
			continue
		}
		result, err := c.process(ctx, msg, "replay")
		c.clearInflight(msg.ID)

		switch result {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeMalformed:
			report.Malformed++
		default:
			report.Failed++
			c.logger.WarnContext(ctx, "replay failed; entry kept", "message_id", msg.ID, "error", err)
		}
	}

	c.logger.InfoContext(ctx, "recovery replay finished",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"malformed", report.Malformed,
		"skipped", report.Skipped,
	)

	if snapErr != nil {
		return report, fmt.Errorf("snapshot recovery store: %w", snapErr)
	}
	return report, ctx.Err()
}

func (c *Consumer) markInflight(id string) {
	c.inflightMu.Lock()
	c.inflight[id] = struct{}{}
	c.inflightMu.Unlock()
}

func (c *Consumer) claimForReplay(id string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Consumer) clearInflight(id string) {
	c.inflightMu.Lock()
	delete(c.inflight, id)
	c.inflightMu.Unlock()
}

func (c *Consumer) notifyFailure(ctx context.Context, msg model.Message, job *model.Job, stage string, err error) {
	if c.notifier == nil || !c.notifier.Enabled() {
		return
	}
	c.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:      job.JobID,
		ActionType: string(job.ActionType),
		Asset:      job.Asset,
		MessageID:  msg.ID,
		Stage:      stage,
		Error:      err.Error(),
		ErrorClass: obserrors.Classify(err),
		OccurredAt: time.Now().UTC(),
		Metadata: map[string]string{
			"component": "queue_consumer",
			"agent":     job.Agent,
		},
	})
}

func (c *Consumer) gaugePending(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	n, err := c.store.Len(ctx)
	if err != nil {
		return
	}
	c.metrics.Gauge("recovery.pending", float64(n), nil)
}

func (c *Consumer) count(name string, tags map[string]string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Count(name, 1, tags)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
