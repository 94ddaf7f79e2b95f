package queuerunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

const (
	defaultHeadroom        = 2
	defaultRecheckInterval = 100 * time.Millisecond
	waitForAllJoinTimeout  = 200 * time.Millisecond
)

// ErrNilTask is returned when Submit is called without a Run function.
var ErrNilTask = errors.New("task run function is required")

// Task is a unit of work admitted by the WorkerPool.
type Task struct {
	// Label identifies the work in logs (typically the message id).
	Label string
	// Run executes the work. Errors and panics are logged, never propagated.
	Run func(ctx context.Context) error
}

// WorkerPoolOptions configures a WorkerPool.
type WorkerPoolOptions struct {
	Logger *slog.Logger

	// Headroom is subtracted from the available cores to form the admission limit.
	// Values below 1 use the default of 2.
	Headroom int
	// Cores reports available CPU capacity; defaults to runtime.GOMAXPROCS(0).
	Cores func() int
	// RecheckInterval bounds how long an admission wait goes without re-reading the limit.
	RecheckInterval time.Duration

	Metrics statsd.Sink
}

type workerHandle struct {
	name    string
	label   string
	started time.Time
	done    chan struct{}
}

// WorkerPool spawns one goroutine per admitted task and bounds concurrency by a limit derived
// from CPU capacity. The limit is recomputed on every admission check.
type WorkerPool struct {
	logger   *slog.Logger
	headroom int
	cores    func() int
	recheck  time.Duration
	metrics  statsd.Sink

	mu       sync.Mutex
	workers  map[string]*workerHandle
	seq      int
	released chan struct{}
}

// NewWorkerPool constructs a WorkerPool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	headroom := opts.Headroom
	if headroom < 1 {
		headroom = defaultHeadroom
	}
	cores := opts.Cores
	if cores == nil {
		cores = func() int { return runtime.GOMAXPROCS(0) }
	}
	recheck := opts.RecheckInterval
	if recheck <= 0 {
		recheck = defaultRecheckInterval
	}
	return &WorkerPool{
		logger:   resolveLogger(opts.Logger).With("component", "worker_pool"),
		headroom: headroom,
		cores:    cores,
		recheck:  recheck,
		metrics:  opts.Metrics,
		workers:  make(map[string]*workerHandle),
		released: make(chan struct{}, 1),
	}
}

// AdmissionLimit returns max(1, cores-headroom).
func (p *WorkerPool) AdmissionLimit() int {
	return max(1, p.cores()-p.headroom)
}

// ActiveCount returns the number of running workers.
func (p *WorkerPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Submit blocks until a slot is free, then starts task on a new worker and returns its name.
// The task runs with a context that carries ctx's values but not its cancellation.
func (p *WorkerPool) Submit(ctx context.Context, task Task) (string, error) {
	if task.Run == nil {
		return "", ErrNilTask
	}

	ticker := time.NewTicker(p.recheck)
	defer ticker.Stop()

	waitStart := time.Now()
	for {
		// cores() may be slow or change; read it before taking the lock.
		limit := p.AdmissionLimit()
		if w, ok := p.tryRegister(limit, task.Label); ok {
			if waited := time.Since(waitStart); waited >= p.recheck {
				p.logger.DebugContext(ctx, "worker admitted after wait", "worker", w.name, "waited", waited, "limit", limit)
			}
			go p.run(context.WithoutCancel(ctx), w, task)
			return w.name, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for worker slot: %w", ctx.Err())
		case <-p.released:
		case <-ticker.C:
		}
	}
}

func (p *WorkerPool) tryRegister(limit int, label string) (*workerHandle, bool) {
	p.mu.Lock()
	if len(p.workers) >= limit {
		p.mu.Unlock()
		return nil, false
	}
	p.seq++
	w := &workerHandle{
		name:    fmt.Sprintf("worker-%d", p.seq),
		label:   label,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	p.workers[w.name] = w
	active := len(p.workers)
	p.mu.Unlock()

	p.gauge(active)
	return w, true
}

func (p *WorkerPool) deregister(w *workerHandle) {
	p.mu.Lock()
	delete(p.workers, w.name)
	active := len(p.workers)
	p.mu.Unlock()

	close(w.done)
	p.gauge(active)

	select {
	case p.released <- struct{}{}:
	default:
	}
}

func (p *WorkerPool) run(ctx context.Context, w *workerHandle, task Task) {
	defer func() {
		p.deregister(w)
		p.logger.InfoContext(ctx, "worker finished", "worker", w.name, "task", w.label, "duration", time.Since(w.started))
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "worker panic recovered", "worker", w.name, "task", w.label, "panic", r)
		}
	}()

	p.logger.InfoContext(ctx, "worker started", "worker", w.name, "task", w.label)
	if err := task.Run(ctx); err != nil {
		p.logger.ErrorContext(ctx, "worker task failed", "worker", w.name, "task", w.label, "error", err)
	}
}

// WaitForAll blocks until every tracked worker has finished or ctx is done.
func (p *WorkerPool) WaitForAll(ctx context.Context) error {
	for {
		p.mu.Lock()
		running := make([]*workerHandle, 0, len(p.workers))
		for _, w := range p.workers {
			running = append(running, w)
		}
		p.mu.Unlock()

		if len(running) == 0 {
			return nil
		}

		for _, w := range running {
			timer := time.NewTimer(waitForAllJoinTimeout)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-w.done:
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

func (p *WorkerPool) gauge(active int) {
	if p.metrics == nil {
		return
	}
	p.metrics.Gauge("worker.active", float64(active), nil)
}
