package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/kompics/metrics"
)

// countdown reschedules itself until remaining reaches zero.
type countdown struct {
	pool      *Pool
	remaining atomic.Int64
	batches   atomic.Int64
	maxSeen   atomic.Int64
	done      chan struct{}
}

func (c *countdown) Run(workerID, maxEvents int) {
	c.batches.Add(1)
	if int64(maxEvents) > c.maxSeen.Load() {
		c.maxSeen.Store(int64(maxEvents))
	}
	for i := 0; i < maxEvents; i++ {
		if c.remaining.Add(-1) == 0 {
			close(c.done)
			return
		}
	}
	_ = c.pool.Schedule(c, workerID)
}

type runFunc func(workerID, maxEvents int)

func (f runFunc) Run(workerID, maxEvents int) { f(workerID, maxEvents) }

func TestPool_RunsAfterProceed(t *testing.T) {
	p := NewPool(Options{Workers: 2})
	defer p.ForceShutdown()

	var ran atomic.Bool
	require.NoError(t, p.Schedule(runFunc(func(int, int) { ran.Store(true) }), NoWorker))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "work ran before Proceed")

	p.Proceed()
	assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
}

func TestPool_BatchesAndRequeues(t *testing.T) {
	p := NewPool(Options{Workers: 3, MaxEventsPerBatch: 4})
	defer p.ForceShutdown()

	c := &countdown{pool: p, done: make(chan struct{})}
	c.remaining.Store(40)
	require.NoError(t, p.Schedule(c, NoWorker))
	p.Proceed()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not finish")
	}
	assert.Equal(t, int64(10), c.batches.Load())
	assert.Equal(t, int64(4), c.maxSeen.Load())
}

func TestPool_ManyRunnables(t *testing.T) {
	p := NewPool(Options{Workers: 4})
	p.Proceed()

	const n = 500
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, p.Schedule(runFunc(func(int, int) { wg.Done() }), NoWorker))
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("not all runnables executed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	assert.Len(t, p.FreeListStats(), 4)
}

func TestPool_ShutdownWaitsForBatch(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	p.Proceed()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Schedule(runFunc(func(int, int) {
		close(started)
		<-release
	}), NoWorker))
	<-started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(short)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestPool_ScheduleErrors(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	assert.ErrorIs(t, p.Schedule(nil, NoWorker), ErrNilRunnable)

	p.ForceShutdown()
	err := p.Schedule(runFunc(func(int, int) {}), NoWorker)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPool_Defaults(t *testing.T) {
	p := NewPool(Options{})
	defer p.ForceShutdown()
	assert.Greater(t, p.Workers(), 0)
	assert.Equal(t, 1, p.MaxEventsPerBatch())
	assert.Equal(t, DefaultOptions().MaxEventsPerBatch, 1)
}

func TestPool_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	p := NewPool(Options{Workers: 1, Metrics: m})
	p.Proceed()
	defer p.ForceShutdown()

	done := make(chan struct{})
	require.NoError(t, p.Schedule(runFunc(func(int, int) { close(done) }), NoWorker))
	<-done
}
