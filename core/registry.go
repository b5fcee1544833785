package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Factory builds a Definition from an untyped init value.
type Factory func(ctx *Context, init any) Definition

// Registry maps names to component factories and tracks live components.
type Registry struct {
	// live components by id
	components sync.Map // map[uuid.UUID]*Component

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory registers f under name.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register factory %q: %w", name, ErrNilConstructor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register factory %q: %w", name, ErrFactoryExists)
	}
	r.factories[name] = f
	return nil
}

// Register registers a typed constructor under name. Creating it with an
// init value of another type fails with ErrInitType.
func Register[I any](r *Registry, name string, ctor func(ctx *Context, init I) Definition) error {
	if ctor == nil {
		return fmt.Errorf("register factory %q: %w", name, ErrNilConstructor)
	}
	return r.RegisterFactory(name, func(ctx *Context, init any) Definition {
		typed, ok := init.(I)
		if !ok && init != nil {
			panic(fmt.Errorf("%w: %s wants %T, got %T", ErrInitType, name, *new(I), init))
		}
		return ctor(ctx, typed)
	})
}

// Constructor returns a Constructor that builds the named factory with init.
func (r *Registry) Constructor(name string, init any) (Constructor, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, configError("create", fmt.Errorf("%w: %q", ErrUnknownFactory, name))
	}
	return func(ctx *Context) Definition {
		return f(ctx, init)
	}, nil
}

// Factories returns the registered names.
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) add(c *Component) {
	r.components.Store(c.id, c)
}

func (r *Registry) remove(id uuid.UUID) {
	r.components.Delete(id)
}

// Lookup finds a live component by id.
func (r *Registry) Lookup(id uuid.UUID) (*Component, bool) {
	if c, ok := r.components.Load(id); ok {
		return c.(*Component), true
	}
	return nil, false
}

// List returns the ids of all live components.
func (r *Registry) List() []uuid.UUID {
	var ids []uuid.UUID
	r.components.Range(func(key, _ any) bool {
		ids = append(ids, key.(uuid.UUID))
		return true
	})
	return ids
}

// Stats returns a snapshot of every live component.
func (r *Registry) Stats() []ComponentStats {
	var stats []ComponentStats
	r.components.Range(func(_, value any) bool {
		stats = append(stats, value.(*Component).Stats())
		return true
	})
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].CreatedAt.Before(stats[j].CreatedAt)
	})
	return stats
}

// Len returns the number of live components.
func (r *Registry) Len() int {
	n := 0
	r.components.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
