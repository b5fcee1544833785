// Package scheduler runs ready components on a fixed pool of workers.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/najoast/kompics/metrics"
)

// NoWorker is the worker id used by goroutines that are not pool workers.
const NoWorker = -1

var (
	// ErrStopped is returned by Schedule after shutdown.
	ErrStopped = errors.New("scheduler: stopped")

	// ErrNilRunnable is returned when scheduling nil.
	ErrNilRunnable = errors.New("scheduler: nil runnable")
)

// Runnable is a unit of work with pending events. Run executes at most
// maxEvents of them on the given worker and is responsible for scheduling
// itself again if work remains.
type Runnable interface {
	Run(workerID, maxEvents int)
}

// Scheduler places runnables on workers.
type Scheduler interface {
	// Schedule enqueues r. workerID identifies the calling worker or is
	// NoWorker when called from elsewhere.
	Schedule(r Runnable, workerID int) error

	// Proceed starts executing scheduled work.
	Proceed()

	// Shutdown stops accepting work and waits for in-flight batches,
	// bounded by ctx.
	Shutdown(ctx context.Context) error

	// ForceShutdown stops without waiting.
	ForceShutdown()

	// Workers returns the number of workers.
	Workers() int
}

// Options configures a Pool.
type Options struct {
	// Workers is the number of worker goroutines
	Workers int

	// MaxEventsPerBatch bounds how many events a component runs per turn
	MaxEventsPerBatch int

	// FreeListSize is the per-worker spare node count for the ready queue
	FreeListSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns one worker per CPU and single-event batches.
func DefaultOptions() Options {
	return Options{
		Workers:           runtime.NumCPU(),
		MaxEventsPerBatch: 1,
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.MaxEventsPerBatch <= 0 {
		o.MaxEventsPerBatch = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
