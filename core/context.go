package core

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"

	"github.com/najoast/kompics/scheduler"
)

// Context is the definition's view of its component. Its methods are
// meant to be called from the component's constructor or handlers, which
// run on the component's worker. Goroutines started by the component must
// use the context returned by External instead.
type Context struct {
	c *Component

	// external contexts never touch a worker's free lists
	external bool
}

// External returns a view of the context for goroutines other than the
// component's handlers, such as a socket reader feeding events into the
// component. Trigger, OnSelf, Answer, AnswerWith, Suicide and UpdateConfig
// are safe on it from any goroutine; Create and Destroy are refused.
func (ctx *Context) External() *Context {
	if ctx.external {
		return ctx
	}
	return &Context{c: ctx.c, external: true}
}

// IsExternal reports whether ctx was returned by External.
func (ctx *Context) IsExternal() bool {
	return ctx.external
}

// worker is the id of the worker the caller runs on.
func (ctx *Context) worker() int {
	if ctx.external {
		return scheduler.NoWorker
	}
	return ctx.c.currentWorker()
}

// ID returns the component id.
func (ctx *Context) ID() uuid.UUID {
	return ctx.c.id
}

// Self returns the component.
func (ctx *Context) Self() *Component {
	return ctx.c
}

// Provides declares that the component provides pt and returns the inside
// port: requests arrive there and indications are triggered on it.
// Declaring the same port type twice returns the same port.
func (ctx *Context) Provides(pt *PortType) *Port {
	c := ctx.c
	if pt == ControlPort {
		return c.control
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.provided[pt]; ok {
		return p
	}
	p := newPortPair(pt, Negative, c, c.parent)
	c.provided[pt] = p
	return p
}

// Requires declares that the component requires pt and returns the inside
// port: indications arrive there and requests are triggered on it.
func (ctx *Context) Requires(pt *PortType) *Port {
	c := ctx.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.required[pt]; ok {
		return p
	}
	p := newPortPair(pt, Positive, c, c.parent)
	c.required[pt] = p
	return p
}

// Control returns the inside control port. Subscribe Start, Stop and Kill
// handlers here.
func (ctx *Context) Control() *Port {
	return ctx.c.control
}

// Loopback returns the port where events sent with OnSelf arrive.
func (ctx *Context) Loopback() *Port {
	return ctx.c.loopback.pair
}

// OnSelf sends ev to the component's own Loopback handlers.
func (ctx *Context) OnSelf(ev Event) error {
	if ev == nil {
		return configError("trigger", ErrNilEvent)
	}
	ctx.c.loopback.doTrigger(ev, ctx.worker())
	return nil
}

// Create builds a child component. When the component is active the child
// is started right away, otherwise with the component's next Start.
func (ctx *Context) Create(ctor Constructor) (*Component, error) {
	c := ctx.c
	if ctx.external {
		return nil, configError("create", ErrExternalCall)
	}
	if c.State() == Destroyed {
		return nil, configError("create", ErrDestroyed)
	}
	child, err := newComponent(c.sys, c, ctor)
	if err != nil {
		return nil, err
	}
	c.addChild(child)
	if c.State() == Active {
		child.send(Start{}, ctx.worker())
	}
	return child, nil
}

// CreateNamed builds a child from the factory registered under name.
func (ctx *Context) CreateNamed(name string, init any) (*Component, error) {
	ctor, err := ctx.c.sys.registry.Constructor(name, init)
	if err != nil {
		return nil, err
	}
	return ctx.Create(ctor)
}

// Destroy immediately destroys child and its subtree. Children should be
// stopped first.
func (ctx *Context) Destroy(child *Component) error {
	if ctx.external {
		return configError("destroy", ErrExternalCall)
	}
	if child == nil || child.parent != ctx.c {
		return configError("destroy", ErrNotChild)
	}
	if st := child.State(); st == Active {
		ctx.c.logger().Warn("destroying a child that was not stopped",
			"child", child.name,
			"child_id", child.id.String())
	}
	ctx.c.removeChild(child)
	child.destroySubtree()

	// a destroyed child never answers a pending Stop or Kill
	ctx.c.childGone(child, ctx.worker())
	return nil
}

// Connect joins two ports with a channel.
func (ctx *Context) Connect(a, b *Port, opts ...ConnectOption) (*Channel, error) {
	return Connect(a, b, opts...)
}

// Disconnect removes ch. It is safe to call more than once.
func (ctx *Context) Disconnect(ch *Channel) {
	if ch != nil {
		ch.Disconnect()
	}
}

// DisconnectPorts removes every channel between a and b.
func (ctx *Context) DisconnectPorts(a, b *Port) int {
	return DisconnectPorts(a, b)
}

// Trigger sends ev out of port. The event must be allowed in the port's
// outgoing direction.
func (ctx *Context) Trigger(ev Event, port *Port) error {
	if ev == nil {
		return configError("trigger", ErrNilEvent)
	}
	if port == nil {
		return configError("trigger", ErrNilPort)
	}
	if _, ok := ev.(DirectResponse); ok {
		return configError("trigger", ErrResponseTrigger)
	}
	if !port.portType.Allows(ev, port.polarity.Opposite()) {
		return configError("trigger", fmt.Errorf("%w: %s on %s", ErrEventNotAllowed, eventName(ev), port))
	}
	if port.pair.Released() {
		ctx.c.logger().Debug("trigger on released port", "event", eventName(ev), "port", port.String())
		return nil
	}

	if req, ok := ev.(DirectRequest); ok {
		req.direct().stamp(port.pair)
	}
	port.doTrigger(ev, ctx.worker())
	return nil
}

// Answer sends the response stored on req with SetResponse back to the
// port req was triggered on.
func (ctx *Context) Answer(req DirectRequest) error {
	if req == nil {
		return configError("answer", ErrNilEvent)
	}
	resp := req.direct().Response()
	if resp == nil {
		ctx.c.logger().Warn("answer without a response", "request", eventName(req))
		return nil
	}
	return ctx.answer(req, resp)
}

// AnswerWith sends resp back to the port req was triggered on.
func (ctx *Context) AnswerWith(req DirectRequest, resp DirectResponse) error {
	if req == nil || resp == nil {
		return configError("answer", ErrNilEvent)
	}
	return ctx.answer(req, resp)
}

func (ctx *Context) answer(req DirectRequest, resp DirectResponse) error {
	d := req.direct()

	d.mu.Lock()
	origin := d.origin
	d.mu.Unlock()
	if origin != nil && !origin.portType.Allows(resp, origin.pair.polarity) {
		return configError("answer", fmt.Errorf("%w: %s on %s", ErrEventNotAllowed, eventName(resp), origin.pair))
	}

	origin, err := d.claim()
	if err != nil {
		return configError("answer", err)
	}
	d.SetResponse(resp)
	origin.doTrigger(resp, ctx.worker())
	return nil
}

// Subscribe binds fn to events of type E arriving at port, which must be
// owned by the component behind ctx. E may be an interface; fn then runs
// for every allowed event implementing it.
func Subscribe[E Event](ctx *Context, port *Port, fn func(E) error) (*Subscription, error) {
	if port == nil {
		return nil, configError("subscribe", ErrNilPort)
	}
	if fn == nil {
		return nil, configError("subscribe", ErrNilHandler)
	}
	if port.owner != ctx.c {
		return nil, configError("subscribe", fmt.Errorf("%w: %s", ErrForeignPort, port))
	}

	t := reflect.TypeOf((*E)(nil)).Elem()
	if !port.portType.allowsType(t, port.polarity) {
		return nil, configError("subscribe", fmt.Errorf("%w: %s on %s", ErrEventNotAllowed, t, port))
	}

	s := &Subscription{
		port:      port,
		eventType: t.String(),
		matches: func(ev Event) bool {
			_, ok := ev.(E)
			return ok
		},
		invoke: func(ev Event) error {
			return fn(ev.(E))
		},
	}
	port.addSubscription(s)
	return s, nil
}

// Unsubscribe removes a handler. Events already queued for it are still
// handled by the handlers subscribed when they run.
func (ctx *Context) Unsubscribe(s *Subscription) error {
	if s == nil {
		return configError("unsubscribe", ErrNilHandler)
	}
	if s.port.owner != ctx.c {
		return configError("unsubscribe", ErrForeignPort)
	}
	if !s.port.removeSubscription(s) {
		return configError("unsubscribe", ErrNotSubscribed)
	}
	return nil
}

// Suicide kills the component as if its parent had sent Kill.
func (ctx *Context) Suicide() {
	ctx.c.send(Kill{}, ctx.worker())
}

// Config returns the component's current settings.
func (ctx *Context) Config() *Config {
	return ctx.c.Config()
}

// UpdateConfig applies u to the component and propagates it to the parent
// and the children, subject to each component's Updater. It is applied
// asynchronously, after the events already queued.
func (ctx *Context) UpdateConfig(u ConfigUpdate) {
	if u.Empty() {
		return
	}
	ctx.c.send(configUpdate{update: u}, ctx.worker())
}

// Logger returns a logger carrying the component identity and the logging
// context.
func (ctx *Context) Logger() *slog.Logger {
	return ctx.c.logger()
}

// LogCtxPut adds a field to the logging context until LogCtxRemove or
// LogCtxReset.
func (ctx *Context) LogCtxPut(key, value string) {
	c := ctx.c
	c.logMu.Lock()
	c.logCtx[key] = value
	c.logMu.Unlock()
}

// LogCtxPutAlways adds a field that survives LogCtxReset.
func (ctx *Context) LogCtxPutAlways(key, value string) {
	c := ctx.c
	c.logMu.Lock()
	c.logAlways[key] = value
	c.logMu.Unlock()
}

// LogCtxRemove removes key from the logging context.
func (ctx *Context) LogCtxRemove(key string) {
	c := ctx.c
	c.logMu.Lock()
	delete(c.logCtx, key)
	delete(c.logAlways, key)
	c.logMu.Unlock()
}

// LogCtxReset drops every field not added with LogCtxPutAlways.
func (ctx *Context) LogCtxReset() {
	c := ctx.c
	c.logMu.Lock()
	clear(c.logCtx)
	c.logMu.Unlock()
}

// LogCtxGet returns the value of key in the logging context.
func (ctx *Context) LogCtxGet(key string) (string, bool) {
	c := ctx.c
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if v, ok := c.logCtx[key]; ok {
		return v, true
	}
	v, ok := c.logAlways[key]
	return v, ok
}
