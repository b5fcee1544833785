package bootstrap

import (
	"log/slog"

	"github.com/najoast/kompics/config"
	"github.com/najoast/kompics/core"
	"github.com/najoast/kompics/metrics"
	"github.com/najoast/kompics/scheduler"
)

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithLogger sets the logger handed to the scheduler and every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics sets the collectors shared by the scheduler and components.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithRegistry sets the factory and component registry.
func WithRegistry(reg *core.Registry) Option {
	return func(r *Runtime) { r.registry = reg }
}

// WithConfig sets the initial configuration.
func WithConfig(cfg *config.Config) Option {
	return func(r *Runtime) { r.cfg = cfg }
}

// WithScheduler sets the scheduler used by the next start.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(r *Runtime) { r.sched = s }
}

// WithFaultHandler sets the handler for faults escalated past the root.
func WithFaultHandler(h FaultHandler) Option {
	return func(r *Runtime) { r.faultHandler = h }
}

// WithExitFunc replaces os.Exit for unhandled root faults.
func WithExitFunc(fn func(code int)) Option {
	return func(r *Runtime) { r.exit = fn }
}
