package core

import (
	"maps"
	"reflect"
	"sort"
)

// Config is the immutable set of settings a component sees. A child starts
// with its parent's Config; updates replace it with a new value.
type Config struct {
	values map[string]any
}

// NewConfig returns a Config holding a copy of values.
func NewConfig(values map[string]any) *Config {
	return &Config{values: maps.Clone(values)}
}

// Get returns the value stored under key.
func (c *Config) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (c *Config) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of all settings.
func (c *Config) Values() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return maps.Clone(c.values)
}

// Len returns the number of settings.
func (c *Config) Len() int {
	if c == nil {
		return 0
	}
	return len(c.values)
}

// Apply returns a new Config with u applied. c is not modified.
func (c *Config) Apply(u ConfigUpdate) *Config {
	out := c.Values()
	for k, v := range u.Values {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return &Config{values: out}
}

// ConfigValue returns the setting under key as a T.
func ConfigValue[T any](c *Config, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// ConfigUpdate changes some settings. A nil value removes the key.
type ConfigUpdate struct {
	Values map[string]any
}

// Empty reports whether u changes nothing.
func (u ConfigUpdate) Empty() bool {
	return len(u.Values) == 0
}

// Diff returns the update that turns old into updated.
func Diff(old, updated map[string]any) ConfigUpdate {
	u := ConfigUpdate{Values: make(map[string]any)}
	for k, v := range updated {
		if ov, ok := old[k]; !ok || !reflect.DeepEqual(ov, v) {
			u.Values[k] = v
		}
	}
	for k := range old {
		if _, ok := updated[k]; !ok {
			u.Values[k] = nil
		}
	}
	return u
}

// Propagation says whether and how an update travels on.
type Propagation int

const (
	// PropagateOriginal passes the update on unchanged
	PropagateOriginal Propagation = iota

	// PropagateMapped passes on what UpdateAction.Mapper returns
	PropagateMapped

	// PropagateNone stops the update in this direction
	PropagateNone
)

// UpdateAction is a component's decision about an incoming update. Up is
// towards the parent, Down towards the children. The zero value passes the
// update on unchanged in both directions.
type UpdateAction struct {
	Up     Propagation
	Down   Propagation
	Mapper func(ConfigUpdate) ConfigUpdate
}

func (a UpdateAction) forward(p Propagation, u ConfigUpdate) (ConfigUpdate, bool) {
	switch p {
	case PropagateNone:
		return ConfigUpdate{}, false
	case PropagateMapped:
		if a.Mapper != nil {
			u = a.Mapper(u)
		}
	}
	return u, !u.Empty()
}

// Updater lets a definition decide how a config update propagates. The
// update is applied to the component whatever it returns.
type Updater interface {
	HandleUpdate(u ConfigUpdate) UpdateAction
}

// PostUpdater is called after an update was applied and passed on.
type PostUpdater interface {
	PostUpdate()
}

// configUpdate travels over control ports. from is the neighbour it came
// from, nil where it started.
type configUpdate struct {
	update ConfigUpdate
	from   *Component
}

// Config returns the component's current settings.
func (c *Component) Config() *Config {
	return c.cfg.Load()
}

// handleUpdate applies u and passes it on to every neighbour except the
// one it came from.
func (c *Component) handleUpdate(ev configUpdate, workerID int) {
	if c.State() == Destroyed {
		return
	}
	action := c.askUpdater(ev.update)
	c.cfg.Store(c.Config().Apply(ev.update))

	if down, ok := action.forward(action.Down, ev.update); ok {
		for _, child := range c.Children() {
			if child != ev.from && child.State() != Destroyed {
				child.send(configUpdate{update: down, from: c}, workerID)
			}
		}
	}
	if c.parent != nil && ev.from != c.parent {
		if up, ok := action.forward(action.Up, ev.update); ok {
			c.notifyParent(configUpdate{update: up, from: c}, workerID)
		}
	}

	c.logger().Debug("config updated", "keys", len(ev.update.Values))
	if pu, ok := c.def.(PostUpdater); ok {
		c.runHook("post update", pu.PostUpdate)
	}
}

func (c *Component) askUpdater(u ConfigUpdate) (action UpdateAction) {
	up, ok := c.def.(Updater)
	if !ok {
		return UpdateAction{}
	}
	c.runHook("handle update", func() { action = up.HandleUpdate(u) })
	return action
}

// runHook runs a definition hook, logging a panic instead of faulting.
func (c *Component) runHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger().Error(name+" panicked", "panic", r)
		}
	}()
	fn()
}
