package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/kompics/queue"
	"github.com/najoast/kompics/scheduler"
)

// delivery is one inbox entry.
type delivery struct {
	port  *Port
	event Event
}

// Component is the runtime half of a component instance. It owns the
// component's ports, children, inbox and lifecycle state, and is the
// handle a parent uses to reach a child.
type Component struct {
	id     uuid.UUID
	name   string
	sys    *System
	parent *Component
	def    Definition
	ctx    *Context

	state atomic.Int32
	wid   atomic.Int32
	cfg   atomic.Pointer[Config]

	inbox *queue.Queue[delivery]

	// workCount is the number of pending events. Only its 0->1 transition
	// schedules the component, so at most one worker runs it at a time.
	workCount atomic.Int64

	// The fields below are only touched by the worker running the component.
	replay   []delivery // held events released by Start, run before the inbox
	held     []delivery // non-control events received while not active
	stopping bool
	killing  bool
	tornDown bool
	awaiting map[*Component]struct{}

	control  *Port // inside, negative
	loopback *Port // inside, negative

	mu       sync.Mutex
	children []*Component
	provided map[*PortType]*Port // inside negative ports
	required map[*PortType]*Port // inside positive ports
	stateCh  chan struct{}

	createdAt       time.Time
	eventsProcessed atomic.Uint64
	lastEventAt     atomic.Int64

	logMu     sync.Mutex
	logCtx    map[string]string
	logAlways map[string]string
}

func newComponent(sys *System, parent *Component, ctor Constructor) (c *Component, err error) {
	if ctor == nil {
		return nil, configError("create", ErrNilConstructor)
	}

	c = &Component{
		id:        uuid.New(),
		name:      "component",
		sys:       sys,
		parent:    parent,
		inbox:     queue.New[delivery](),
		provided:  make(map[*PortType]*Port),
		required:  make(map[*PortType]*Port),
		stateCh:   make(chan struct{}),
		createdAt: time.Now(),
		logCtx:    make(map[string]string),
		logAlways: make(map[string]string),
	}
	c.state.Store(int32(Starting))
	c.wid.Store(scheduler.NoWorker)
	if parent != nil {
		c.cfg.Store(parent.Config())
	} else {
		c.cfg.Store(sys.config)
	}
	c.control = newPortPair(ControlPort, Negative, c, parent)

	// both ends of the loopback belong to the component itself
	c.loopback = newPortPair(LoopbackPort, Negative, c, c)
	c.ctx = &Context{c: c}

	def, err := construct(ctor, c.ctx)
	if err != nil {
		// children created before the failure are live and registered
		for _, child := range c.Children() {
			c.removeChild(child)
			child.destroySubtree()
		}
		c.state.Store(int32(Destroyed))
		c.release()
		return nil, err
	}
	c.def = def
	c.name = definitionName(def)

	sys.registry.add(c)
	sys.metrics.ComponentCreated()
	return c, nil
}

func construct(ctor Constructor, ctx *Context) (def Definition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("construct component: %w", &PanicError{Value: r, Stack: stack()})
		}
	}()
	return ctor(ctx), nil
}

// ID returns the component's unique identifier.
func (c *Component) ID() uuid.UUID {
	return c.id
}

// Name returns the component's name.
func (c *Component) Name() string {
	return c.name
}

// State returns the current lifecycle state.
func (c *Component) State() State {
	return State(c.state.Load())
}

// Definition returns the user definition.
func (c *Component) Definition() Definition {
	return c.def
}

// Parent returns the parent component, or nil for the root.
func (c *Component) Parent() *Component {
	return c.parent
}

// Control returns the parent side of the control port. The parent triggers
// Start, Stop and Kill here and subscribes to Started, Stopped, Killed and
// faults.
func (c *Component) Control() *Port {
	return c.control.pair
}

// Positive returns the parent side of a port type the component provides,
// or nil.
func (c *Component) Positive(pt *PortType) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.provided[pt]; ok {
		return p.pair
	}
	return nil
}

// Negative returns the parent side of a port type the component requires,
// or nil.
func (c *Component) Negative(pt *PortType) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.required[pt]; ok {
		return p.pair
	}
	return nil
}

// Children returns the live children.
func (c *Component) Children() []*Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.children)
}

func (c *Component) addChild(child *Component) {
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
}

func (c *Component) removeChild(child *Component) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.children {
		if cur == child {
			c.children = slices.Delete(c.children, i, i+1)
			return true
		}
	}
	return false
}

// Stats returns a snapshot of the component's counters.
func (c *Component) Stats() ComponentStats {
	st := ComponentStats{
		ID:              c.id,
		Name:            c.name,
		State:           c.State(),
		Pending:         int(c.workCount.Load()),
		EventsProcessed: c.eventsProcessed.Load(),
		CreatedAt:       c.createdAt,
	}
	if c.parent != nil {
		st.Parent = c.parent.id
	}
	if ts := c.lastEventAt.Load(); ts > 0 {
		st.LastEventAt = time.Unix(0, ts)
	}
	c.mu.Lock()
	st.Children = len(c.children)
	c.mu.Unlock()
	return st
}

// setState moves the component to s. Nothing leaves Destroyed.
func (c *Component) setState(s State) bool {
	for {
		old := State(c.state.Load())
		if old == s || old == Destroyed {
			return false
		}
		if c.state.CompareAndSwap(int32(old), int32(s)) {
			c.sys.metrics.StateChanged(s.String())
			if s == Destroyed {
				c.sys.metrics.ComponentDestroyed()
			}

			c.mu.Lock()
			close(c.stateCh)
			c.stateCh = make(chan struct{})
			c.mu.Unlock()

			c.logger().Debug("state changed", "from", old.String())
			return true
		}
	}
}

// AwaitState blocks until the component is in one of states or ctx is done.
func (c *Component) AwaitState(ctx context.Context, states ...State) error {
	for {
		c.mu.Lock()
		ch := c.stateCh
		c.mu.Unlock()

		if slices.Contains(states, c.State()) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("component %s still %s: %w", c.id, c.State(), ctx.Err())
		}
	}
}

// currentWorker is the worker running c, or NoWorker between batches. It
// is only meaningful on that worker's goroutine.
func (c *Component) currentWorker() int {
	return int(c.wid.Load())
}

// enqueue adds d to the inbox and schedules the component when it was idle.
func (c *Component) enqueue(d delivery, workerID int) {
	if c.State() == Destroyed {
		c.drop(d)
		return
	}
	if err := c.inbox.Offer(c.sys.arena(workerID), d); err != nil {
		c.logger().Error("inbox rejected event", "event", eventName(d.event), "error", err)
		return
	}
	if c.workCount.Add(1) == 1 {
		c.sys.schedule(c, workerID)
	}
}

// Run executes up to maxEvents pending events. It implements
// scheduler.Runnable.
func (c *Component) Run(workerID, maxEvents int) {
	c.wid.Store(int32(workerID))
	fl := c.sys.arena(workerID)
	if maxEvents <= 0 {
		maxEvents = 1
	}

	for i := 0; i < maxEvents; i++ {
		d, ok := c.next(fl)
		if !ok {
			c.logger().Error("scheduled without pending events", "pending", c.workCount.Load())
			break
		}
		c.execute(d, workerID)
		if c.workCount.Add(-1) == 0 {
			c.wid.Store(scheduler.NoWorker)
			return
		}
	}
	c.wid.Store(scheduler.NoWorker)
	c.sys.schedule(c, workerID)
}

func (c *Component) next(fl *queue.FreeList[delivery]) (delivery, bool) {
	if len(c.replay) > 0 {
		d := c.replay[0]
		c.replay[0] = delivery{}
		c.replay = c.replay[1:]
		return d, true
	}
	return c.inbox.Poll(fl)
}

func (c *Component) execute(d delivery, workerID int) {
	st := c.State()
	switch {
	case st == Destroyed:
		c.drop(d)
	case d.port.control:
		c.handleControl(d, workerID)
	case st != Active:
		c.held = append(c.held, d)
	default:
		c.dispatch(d, workerID)
	}
}

// dispatch runs every matching handler on d.port. A failing handler turns
// into a fault and skips the remaining handlers.
func (c *Component) dispatch(d delivery, workerID int) {
	for _, s := range d.port.subscriptions() {
		if !s.matches(d.event) {
			continue
		}
		if err := invoke(s, d.event); err != nil {
			c.fault(err, d.event, workerID)
			break
		}
	}
	c.eventsProcessed.Add(1)
	c.lastEventAt.Store(time.Now().UnixNano())
	c.sys.metrics.EventDispatched(c.name)
}

func invoke(s *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: stack()}
		}
	}()
	return s.invoke(ev)
}

func (c *Component) drop(d delivery) {
	c.sys.metrics.EventDropped(c.name)
	c.logger().Warn("dropping event for destroyed component",
		"event", eventName(d.event),
		"port", d.port.portType.name)
}

// release disconnects every port the component declared.
func (c *Component) release() {
	c.mu.Lock()
	ports := make([]*Port, 0, 2*(len(c.provided)+len(c.required)+2))
	for _, p := range c.provided {
		ports = append(ports, p, p.pair)
	}
	for _, p := range c.required {
		ports = append(ports, p, p.pair)
	}
	c.mu.Unlock()
	ports = append(ports, c.control, c.control.pair, c.loopback, c.loopback.pair)

	for _, p := range ports {
		p.release()
	}
}

// destroySubtree immediately destroys c and its descendants.
func (c *Component) destroySubtree() {
	for _, child := range c.Children() {
		child.destroySubtree()
	}
	c.sys.registry.remove(c.id)
	c.setState(Destroyed)
	c.release()
}

// markPassive sets c, and its descendants when subtree is true, passive.
func (c *Component) markPassive(subtree bool) {
	if subtree {
		for _, child := range c.Children() {
			child.markPassive(true)
		}
	}
	c.setState(Passive)
}

// Restart marks the component passive and sends it Start. With
// RestartSubtree every descendant is marked passive too, so Start
// cascades through the whole subtree.
func (c *Component) Restart(scope RestartScope) {
	if c.State() == Destroyed {
		return
	}
	c.markPassive(scope == RestartSubtree)
	c.control.deliver(Start{}, scheduler.NoWorker)
}

// logger returns the system logger annotated with the component's identity,
// state and logging context.
func (c *Component) logger() *slog.Logger {
	attrs := []any{
		"component", c.name,
		"component_id", c.id.String(),
		"state", c.State().String(),
	}

	c.logMu.Lock()
	keys := make([]string, 0, len(c.logAlways)+len(c.logCtx))
	for k := range c.logAlways {
		if _, ok := c.logCtx[k]; !ok {
			keys = append(keys, k)
		}
	}
	for k := range c.logCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := c.logCtx[k]
		if !ok {
			v = c.logAlways[k]
		}
		attrs = append(attrs, k, v)
	}
	c.logMu.Unlock()

	return c.sys.logger.With(attrs...)
}

func eventName(ev Event) string {
	return fmt.Sprintf("%T", ev)
}
