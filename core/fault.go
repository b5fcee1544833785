package core

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Fault records a handler failure. It is created once and never changed.
type Fault struct {
	// Source is the component whose handler failed
	Source *Component

	// Cause is the returned error or a *PanicError
	Cause error

	// Event is the event being handled
	Event Event

	Timestamp time.Time
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault in %s (%s) handling %s: %v",
		f.Source.name, f.Source.id, eventName(f.Event), f.Cause)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// FaultResolver is implemented by definitions that handle faults raised by
// themselves or escalated by their descendants.
type FaultResolver interface {
	HandleFault(f *Fault) ResolveAction
}

func stack() []byte {
	return debug.Stack()
}

// fault turns a handler failure into a Fault and resolves it locally.
func (c *Component) fault(err error, ev Event, workerID int) {
	f := &Fault{
		Source:    c,
		Cause:     err,
		Event:     ev,
		Timestamp: time.Now(),
	}
	c.logger().Error("handler fault", "event", eventName(ev), "error", err)
	c.resolveFault(f, workerID)
}

func (c *Component) resolveFault(f *Fault, workerID int) {
	action := Escalate
	if r, ok := c.def.(FaultResolver); ok {
		action = c.askResolver(r, f)
	}
	c.sys.metrics.FaultRaised(c.name, action.String())

	log := c.logger().With("fault_source", f.Source.id.String(), "resolution", action.String())
	switch action {
	case Resolved:
		log.Info("fault resolved", "error", f.Cause)
	case Ignore:
		log.Warn("fault ignored", "error", f.Cause)
	case Destroy:
		log.Warn("killing faulty component", "error", f.Cause)
		f.Source.send(Kill{}, workerID)
	default:
		c.escalate(f, workerID)
	}
}

func (c *Component) askResolver(r FaultResolver, f *Fault) (action ResolveAction) {
	defer func() {
		if p := recover(); p != nil {
			c.logger().Error("fault handler panicked", "panic", p)
			action = Escalate
		}
	}()
	return r.HandleFault(f)
}

// escalate hands f to the parent, or to the system at the root.
func (c *Component) escalate(f *Fault, workerID int) {
	if c.parent == nil {
		c.sys.rootFault(f)
		return
	}
	c.notifyParent(f, workerID)
}
