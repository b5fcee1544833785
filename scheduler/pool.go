package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/najoast/kompics/queue"
)

// pool states
const (
	poolIdle int32 = iota
	poolRunning
	poolStopped
)

// Pool is the default Scheduler: a fixed set of workers sharing one ready
// queue. Each worker keeps its own queue.FreeList.
type Pool struct {
	opts Options

	ready  *queue.Queue[Runnable]
	arenas []*queue.FreeList[Runnable]

	// wake holds at most one token per worker
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state     atomic.Int32
	startOnce sync.Once
}

// NewPool creates a Pool. Workers do not run until Proceed.
func NewPool(opts Options) *Pool {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	arenas := make([]*queue.FreeList[Runnable], opts.Workers)
	for i := range arenas {
		arenas[i] = queue.NewFreeList[Runnable](opts.FreeListSize)
	}

	return &Pool{
		opts:   opts,
		ready:  queue.New[Runnable](),
		arenas: arenas,
		wake:   make(chan struct{}, opts.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.opts.Workers
}

// MaxEventsPerBatch returns the configured batch size.
func (p *Pool) MaxEventsPerBatch() int {
	return p.opts.MaxEventsPerBatch
}

func (p *Pool) arena(workerID int) *queue.FreeList[Runnable] {
	if workerID < 0 || workerID >= len(p.arenas) {
		return nil
	}
	return p.arenas[workerID]
}

// Schedule enqueues r and wakes a parked worker.
func (p *Pool) Schedule(r Runnable, workerID int) error {
	if r == nil {
		return ErrNilRunnable
	}
	if p.state.Load() == poolStopped {
		return ErrStopped
	}

	if err := p.ready.Offer(p.arena(workerID), r); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	p.opts.Metrics.Scheduled(p.ready.Len())

	select {
	case p.wake <- struct{}{}:
	default:
		// every worker already has a pending token
	}
	return nil
}

// Proceed starts the workers. Calling it again has no effect.
func (p *Pool) Proceed() {
	p.startOnce.Do(func() {
		if !p.state.CompareAndSwap(poolIdle, poolRunning) {
			return
		}
		p.opts.Logger.Debug("scheduler starting",
			"workers", p.opts.Workers,
			"max_events_per_batch", p.opts.MaxEventsPerBatch)

		for i := 0; i < p.opts.Workers; i++ {
			p.wg.Add(1)
			go p.runWorker(i)
		}
	})
}

func (p *Pool) runWorker(id int) {
	defer p.wg.Done()

	fl := p.arenas[id]
	for {
		if p.ctx.Err() != nil {
			return
		}

		r, ok := p.ready.Poll(fl)
		if ok {
			p.opts.Metrics.BatchExecuted(p.ready.Len())
			r.Run(id, p.opts.MaxEventsPerBatch)
			continue
		}

		p.opts.Metrics.WorkerParked()
		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return
		}
	}
}

// Shutdown stops the workers after their current batch and waits for them
// until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.state.Store(poolStopped)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.opts.Logger.Debug("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// ForceShutdown signals the workers and returns immediately.
func (p *Pool) ForceShutdown() {
	p.state.Store(poolStopped)
	p.cancel()
}

// FreeListStats returns the ready-queue free list counters of each worker.
// The counters belong to the workers, so call it only after Shutdown.
func (p *Pool) FreeListStats() []queue.FreeListStats {
	stats := make([]queue.FreeListStats, len(p.arenas))
	for i, fl := range p.arenas {
		stats[i] = fl.Stats()
	}
	return stats
}
