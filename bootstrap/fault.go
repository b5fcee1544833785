package bootstrap

import (
	"context"

	"github.com/najoast/kompics/config"
	"github.com/najoast/kompics/core"
)

// FaultHandler decides what happens to a fault no component resolved.
//
//   - core.Resolved: nothing more is done
//   - core.Ignore: the source is restarted
//   - core.Destroy: the runtime shuts down
//   - core.Escalate: the fault is logged and the process exits with status 1
type FaultHandler interface {
	Handle(f *core.Fault) core.ResolveAction
}

// FaultHandlerFunc adapts a function to FaultHandler.
type FaultHandlerFunc func(f *core.Fault) core.ResolveAction

// Handle calls fn(f).
func (fn FaultHandlerFunc) Handle(f *core.Fault) core.ResolveAction {
	return fn(f)
}

// DefaultFaultHandler escalates every fault, ending the process.
var DefaultFaultHandler FaultHandler = FaultHandlerFunc(func(*core.Fault) core.ResolveAction {
	return core.Escalate
})

// onRootFault is the system fault sink. It runs on a worker, so the
// handler is called from a goroutine of its own.
func (r *Runtime) onRootFault(f *core.Fault) {
	go r.resolveRootFault(f)
}

func (r *Runtime) resolveRootFault(f *core.Fault) {
	r.mu.Lock()
	handler := r.faultHandler
	scope := restartScope(r.cfg)
	logger := r.logger
	exit := r.exit
	r.mu.Unlock()

	action := r.askHandler(handler, f)
	log := logger.With(
		"fault_source", f.Source.ID().String(),
		"component", f.Source.Name(),
		"resolution", action.String(),
		"error", f.Cause)

	switch action {
	case core.Resolved:
		log.Info("root fault resolved")
	case core.Ignore:
		log.Warn("root fault ignored, restarting component", "scope", scope.String())
		f.Source.Restart(scope)
	case core.Destroy:
		log.Warn("root fault requested shutdown")
		if err := r.Shutdown(context.Background()); err != nil {
			log.Error("shutdown after fault", "shutdown_error", err)
		}
	default:
		log.Error("unhandled fault, exiting")
		exit(1)
	}
}

func (r *Runtime) askHandler(h FaultHandler, f *core.Fault) (action core.ResolveAction) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("fault handler panicked", "panic", p)
			action = core.Escalate
		}
	}()
	return h.Handle(f)
}

func restartScope(cfg *config.Config) core.RestartScope {
	if cfg != nil && cfg.Runtime.RestartScope == config.RestartScopeComponent {
		return core.RestartComponent
	}
	return core.RestartSubtree
}
