package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/najoast/kompics/config"
	"github.com/najoast/kompics/core"
	"github.com/najoast/kompics/metrics"
	"github.com/najoast/kompics/scheduler"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for the root
// component when the configuration does not say.
const DefaultShutdownTimeout = 5 * time.Second

var (
	// ErrRuntimeOn is returned by setters and starts while the runtime runs
	ErrRuntimeOn = errors.New("runtime is already on")

	// ErrNilFaultHandler is returned by SetFaultHandler(nil)
	ErrNilFaultHandler = errors.New("nil fault handler")

	// ErrRuntimeOff is returned by UpdateConfig while the runtime is off
	ErrRuntimeOff = errors.New("runtime is off")
)

// Runtime owns one component hierarchy and the scheduler running it.
// Every field is guarded by mu; setters are refused while the runtime is on.
type Runtime struct {
	mu sync.Mutex

	// serializes orderly shutdowns without holding mu while waiting
	shutdownMu sync.Mutex

	on           bool
	cfg          *config.Config
	sched        scheduler.Scheduler
	faultHandler FaultHandler
	logger       *slog.Logger
	metrics      *metrics.Metrics
	registry     *core.Registry
	exit         func(code int)

	sys        *core.System
	root       *core.Component
	terminated chan struct{}
}

// New creates a runtime that is off.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		faultHandler: DefaultFaultHandler,
		exit:         os.Exit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg == nil {
		r.cfg = config.DefaultConfig()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.registry == nil {
		r.registry = core.NewRegistry()
	}
	if r.faultHandler == nil {
		r.faultHandler = DefaultFaultHandler
	}
	if r.exit == nil {
		r.exit = os.Exit
	}

	r.terminated = make(chan struct{})
	close(r.terminated)
	return r
}

func refused(op string) error {
	return &core.ConfigurationError{Op: op, Err: ErrRuntimeOn}
}

// SetScheduler replaces the scheduler used by the next start. A nil
// scheduler means a worker pool built from the configuration.
func (r *Runtime) SetScheduler(s scheduler.Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("set scheduler")
	}
	r.sched = s
	return nil
}

// SetFaultHandler replaces the handler for faults escalated past the root.
func (r *Runtime) SetFaultHandler(h FaultHandler) error {
	if h == nil {
		return &core.ConfigurationError{Op: "set fault handler", Err: ErrNilFaultHandler}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("set fault handler")
	}
	r.faultHandler = h
	return nil
}

// ResetFaultHandler restores DefaultFaultHandler.
func (r *Runtime) ResetFaultHandler() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("reset fault handler")
	}
	r.faultHandler = DefaultFaultHandler
	return nil
}

// SetConfig replaces the configuration. A nil config restores the defaults.
func (r *Runtime) SetConfig(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("set config")
	}
	r.cfg = cfg
	return nil
}

// SetLogger replaces the logger used by the next start.
func (r *Runtime) SetLogger(l *slog.Logger) error {
	if l == nil {
		l = slog.Default()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("set logger")
	}
	r.logger = l
	return nil
}

// Config returns the current configuration.
func (r *Runtime) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// IsOn reports whether a root component is running.
func (r *Runtime) IsOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Root returns the running root component, or nil.
func (r *Runtime) Root() *core.Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// Registry returns the factory and component registry.
func (r *Runtime) Registry() *core.Registry {
	return r.registry
}

// Done is closed when the current run terminates. It is already closed
// while the runtime is off.
func (r *Runtime) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// CreateAndStart builds the root component from ctor, starts it and lets
// the scheduler run. Zero workers or maxEventsPerBatch take the configured
// values; both are ignored when a scheduler was set explicitly.
func (r *Runtime) CreateAndStart(ctor core.Constructor, workers, maxEventsPerBatch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.on {
		return refused("create and start")
	}

	rc := r.cfg.Runtime
	sched := r.sched
	if sched == nil {
		if workers <= 0 {
			workers = rc.Workers
		}
		if maxEventsPerBatch <= 0 {
			maxEventsPerBatch = rc.MaxEventsPerBatch
		}
		sched = scheduler.NewPool(scheduler.Options{
			Workers:           workers,
			MaxEventsPerBatch: maxEventsPerBatch,
			FreeListSize:      rc.FreeListSize,
			Logger:            r.logger,
			Metrics:           r.metrics,
		})
	}

	if err := r.metrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	sys := core.NewSystem(sched,
		core.WithLogger(r.logger),
		core.WithMetrics(r.metrics),
		core.WithRegistry(r.registry),
		core.WithFaultSink(r.onRootFault),
		core.WithFreeListSize(rc.FreeListSize),
		core.WithComponentConfig(r.cfg.Custom),
	)

	root, err := sys.CreateRoot(ctor)
	if err != nil {
		return fmt.Errorf("create root component: %w", err)
	}

	r.on = true
	r.sched = sched
	r.sys = sys
	r.root = root
	r.terminated = make(chan struct{})

	sys.Start(root)
	sched.Proceed()

	r.logger.Info("runtime started",
		"root", root.Name(),
		"root_id", root.ID().String(),
		"workers", sched.Workers())
	return nil
}

// UpdateConfig applies u to the root component, which passes it down the
// hierarchy. Components started later begin from the root's settings.
func (r *Runtime) UpdateConfig(u core.ConfigUpdate) error {
	r.mu.Lock()
	sys, root := r.sys, r.root
	r.mu.Unlock()

	if sys == nil || root == nil {
		return ErrRuntimeOff
	}
	sys.UpdateConfig(root, u)
	return nil
}

// CreateAndStartNamed is CreateAndStart with the root built by the
// factory registered under name.
func (r *Runtime) CreateAndStartNamed(name string, init any, workers, maxEventsPerBatch int) error {
	ctor, err := r.registry.Constructor(name, init)
	if err != nil {
		return err
	}
	return r.CreateAndStart(ctor, workers, maxEventsPerBatch)
}

// Shutdown kills the root, waits for it to be destroyed, then stops the
// scheduler. Each wait is bounded by the configured shutdown timeout and
// by ctx; running out of time is logged and shutdown goes on.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownMu.Lock()
	defer r.shutdownMu.Unlock()

	r.mu.Lock()
	if !r.on {
		r.mu.Unlock()
		return nil
	}
	sys, root, sched := r.sys, r.root, r.sched
	timeout := r.cfg.Runtime.ShutdownTimeout
	logger := r.logger
	r.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	if root.State() != core.Destroyed {
		sys.Kill(root)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err := root.AwaitState(waitCtx, core.Destroyed)
	cancel()
	if err != nil {
		logger.Warn("root component did not stop in time, forcing shutdown",
			"timeout", timeout, "state", root.State().String())
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	err = sched.Shutdown(stopCtx)
	cancel()
	if err != nil {
		logger.Warn("scheduler did not stop in time", "error", err)
		sched.ForceShutdown()
	}

	r.finish(sys)
	logger.Info("runtime shut down")
	return nil
}

// ForceShutdown stops the scheduler without waiting for the components.
func (r *Runtime) ForceShutdown() {
	r.mu.Lock()
	if !r.on {
		r.mu.Unlock()
		return
	}
	sys, sched := r.sys, r.sched
	r.mu.Unlock()

	sched.ForceShutdown()
	r.finish(sys)
	r.logger.Warn("runtime force shut down")
}

// AsyncShutdown runs Shutdown on its own goroutine.
func (r *Runtime) AsyncShutdown() {
	go func() {
		if err := r.Shutdown(context.Background()); err != nil {
			r.logger.Error("async shutdown", "error", err)
		}
	}()
}

// WaitForTermination blocks until the current run has shut down or ctx is
// done.
func (r *Runtime) WaitForTermination(ctx context.Context) error {
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish turns the runtime off if sys is still the running system.
func (r *Runtime) finish(sys *core.System) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.on || r.sys != sys {
		return
	}
	r.on = false
	r.sched = nil
	r.sys = nil
	r.root = nil
	close(r.terminated)
}

// LogStats logs one record per live component.
func (r *Runtime) LogStats() {
	for _, st := range r.registry.Stats() {
		r.logger.Info("component stats",
			"component", st.Name,
			"component_id", st.ID.String(),
			"state", st.State.String(),
			"children", st.Children,
			"events_processed", st.EventsProcessed)
	}
}
