package core

import (
	"errors"
	"log/slog"

	"github.com/najoast/kompics/metrics"
	"github.com/najoast/kompics/queue"
	"github.com/najoast/kompics/scheduler"
)

// System holds what every component of one runtime shares: the scheduler,
// the per-worker inbox free lists, logging, metrics, the registry and the
// sink for faults escalated past the root.
type System struct {
	scheduler scheduler.Scheduler
	arenas    []*queue.FreeList[delivery]
	logger    *slog.Logger
	metrics   *metrics.Metrics
	registry  *Registry
	faults    func(*Fault)
	config    *Config

	freeListSize int
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) SystemOption {
	return func(s *System) { s.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) SystemOption {
	return func(s *System) { s.metrics = m }
}

// WithRegistry sets the component registry.
func WithRegistry(r *Registry) SystemOption {
	return func(s *System) { s.registry = r }
}

// WithFaultSink sets the function receiving faults escalated by the root.
// It is called on a worker and must not block.
func WithFaultSink(fn func(*Fault)) SystemOption {
	return func(s *System) { s.faults = fn }
}

// WithFreeListSize sets the per-worker inbox free list size.
func WithFreeListSize(n int) SystemOption {
	return func(s *System) { s.freeListSize = n }
}

// WithComponentConfig sets the settings the root component starts with.
func WithComponentConfig(values map[string]any) SystemOption {
	return func(s *System) { s.config = NewConfig(values) }
}

// NewSystem creates a System scheduling components on sched.
func NewSystem(sched scheduler.Scheduler, opts ...SystemOption) *System {
	s := &System{scheduler: sched}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.config == nil {
		s.config = NewConfig(nil)
	}

	s.arenas = make([]*queue.FreeList[delivery], sched.Workers())
	for i := range s.arenas {
		s.arenas[i] = queue.NewFreeList[delivery](s.freeListSize)
	}
	return s
}

// Registry returns the component registry.
func (s *System) Registry() *Registry {
	return s.registry
}

// Logger returns the base logger.
func (s *System) Logger() *slog.Logger {
	return s.logger
}

// CreateRoot builds a component without a parent. It stays Starting until
// Start is called.
func (s *System) CreateRoot(ctor Constructor) (*Component, error) {
	return newComponent(s, nil, ctor)
}

// Start sends Start to c from outside the runtime.
func (s *System) Start(c *Component) {
	c.send(Start{}, scheduler.NoWorker)
}

// Stop sends Stop to c from outside the runtime.
func (s *System) Stop(c *Component) {
	c.send(Stop{}, scheduler.NoWorker)
}

// Kill sends Kill to c from outside the runtime.
func (s *System) Kill(c *Component) {
	c.send(Kill{}, scheduler.NoWorker)
}

// UpdateConfig applies u at c and propagates it from there.
func (s *System) UpdateConfig(c *Component, u ConfigUpdate) {
	if u.Empty() {
		return
	}
	c.send(configUpdate{update: u}, scheduler.NoWorker)
}

func (s *System) arena(workerID int) *queue.FreeList[delivery] {
	if workerID < 0 || workerID >= len(s.arenas) {
		return nil
	}
	return s.arenas[workerID]
}

func (s *System) schedule(c *Component, workerID int) {
	if err := s.scheduler.Schedule(c, workerID); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			s.logger.Debug("scheduler stopped, component not scheduled", "component_id", c.id.String())
			return
		}
		s.logger.Error("schedule component", "component_id", c.id.String(), "error", err)
	}
}

func (s *System) rootFault(f *Fault) {
	if s.faults == nil {
		s.logger.Error("unhandled fault at root", "error", f)
		return
	}
	s.faults(f)
}
