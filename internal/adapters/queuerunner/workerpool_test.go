package queuerunner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/chart-analysis-worker/internal/observability/statsd"
)

func fixedCores(n int) func() int { return func() int { return n } }

func TestWorkerPool_AdmissionLimit(t *testing.T) {
	tests := []struct {
		cores int
		want  int
	}{
		{cores: 1, want: 1},
		{cores: 2, want: 1},
		{cores: 3, want: 1},
		{cores: 4, want: 2},
		{cores: 16, want: 14},
	}
	for _, tt := range tests {
		p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(tt.cores)})
		assert.Equal(t, tt.want, p.AdmissionLimit(), "cores=%d", tt.cores)
	}
}

func TestWorkerPool_CustomHeadroom(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(8), Headroom: 4})
	assert.Equal(t, 4, p.AdmissionLimit())
}

func TestWorkerPool_LimitRecomputedPerCheck(t *testing.T) {
	var cores atomic.Int32
	cores.Store(3)
	p := NewWorkerPool(WorkerPoolOptions{
		Cores:           func() int { return int(cores.Load()) },
		RecheckInterval: 5 * time.Millisecond,
	})
	assert.Equal(t, 1, p.AdmissionLimit())

	release := make(chan struct{})
	ctx := context.Background()
	_, err := p.Submit(ctx, Task{Label: "hold", Run: func(context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	admitted := make(chan struct{})
	go func() {
		_, serr := p.Submit(ctx, Task{Label: "second", Run: func(context.Context) error { <-release; return nil }})
		assert.NoError(t, serr)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("second task admitted while limit is 1")
	case <-time.After(30 * time.Millisecond):
	}

	// More capacity appears without any worker finishing.
	cores.Store(4)
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("second task not admitted after limit grew")
	}
	assert.Equal(t, 2, p.ActiveCount())

	close(release)
	require.NoError(t, p.WaitForAll(ctx))
}

func TestWorkerPool_NeverExceedsLimit(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(4), RecheckInterval: 5 * time.Millisecond})
	limit := p.AdmissionLimit()

	var running, peak atomic.Int32
	ctx := context.Background()
	for range 12 {
		_, err := p.Submit(ctx, Task{Run: func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}})
		require.NoError(t, err)
		assert.LessOrEqual(t, p.ActiveCount(), limit)
	}
	require.NoError(t, p.WaitForAll(ctx))

	assert.LessOrEqual(t, int(peak.Load()), limit)
	assert.Zero(t, p.ActiveCount())
}

func TestWorkerPool_SequentialWhenLimitIsOne(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(2)})
	require.Equal(t, 1, p.AdmissionLimit())

	var mu sync.Mutex
	starts := map[string]time.Time{}
	ends := map[string]time.Time{}
	task := func(label string) Task {
		return Task{Label: label, Run: func(context.Context) error {
			mu.Lock()
			starts[label] = time.Now()
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			ends[label] = time.Now()
			mu.Unlock()
			return nil
		}}
	}

	ctx := context.Background()
	_, err := p.Submit(ctx, task("first"))
	require.NoError(t, err)
	_, err = p.Submit(ctx, task("second"))
	require.NoError(t, err)
	require.NoError(t, p.WaitForAll(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, starts["second"].Before(ends["first"]), "second task started before first finished")
}

func TestWorkerPool_NamesAndCleanup(t *testing.T) {
	rec := &statsd.Recorder{}
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(8), Metrics: rec})
	ctx := context.Background()

	var ran atomic.Int32
	name1, err := p.Submit(ctx, Task{
		Run: func(context.Context) error { ran.Add(1); return errors.New("boom") },
	})
	require.NoError(t, err)
	name2, err := p.Submit(ctx, Task{
		Run: func(context.Context) error { ran.Add(1); panic("kaboom") },
	})
	require.NoError(t, err)

	assert.Equal(t, "worker-1", name1)
	assert.Equal(t, "worker-2", name2)

	require.NoError(t, p.WaitForAll(ctx))
	assert.Equal(t, int32(2), ran.Load())
	assert.Zero(t, p.ActiveCount())

	v, ok := rec.LastGauge("worker.active")
	require.True(t, ok)
	assert.Zero(t, v)
}

func TestWorkerPool_SubmitRejectsNilRun(t *testing.T) {
	_, err := NewWorkerPool(WorkerPoolOptions{}).Submit(context.Background(), Task{})
	assert.ErrorIs(t, err, ErrNilTask)
}

func TestWorkerPool_SubmitHonoursContextWhileSaturated(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(1), RecheckInterval: 5 * time.Millisecond})
	release := make(chan struct{})
	_, err := p.Submit(context.Background(), Task{Run: func(context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, Task{Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.WaitForAll(context.Background()))
}

func TestWorkerPool_TasksOutliveSubmitContext(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(8)})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	_, err := p.Submit(ctx, Task{Run: func(taskCtx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(taskCtx.Err() != nil)
		return nil
	}})
	require.NoError(t, err)

	<-started
	cancel()
	require.NoError(t, p.WaitForAll(context.Background()))
	assert.False(t, sawCancel.Load(), "in-flight work must not observe submit cancellation")
}

func TestWorkerPool_WaitForAllTimesOut(t *testing.T) {
	p := NewWorkerPool(WorkerPoolOptions{Cores: fixedCores(8)})
	release := make(chan struct{})
	_, err := p.Submit(context.Background(), Task{Run: func(context.Context) error { <-release; return nil }})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.WaitForAll(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, p.ActiveCount())

	close(release)
	require.NoError(t, p.WaitForAll(context.Background()))
}
