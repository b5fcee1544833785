package core

import (
	"fmt"
	"strings"
)

// Definition is the user half of a component: any value built by a
// Constructor. It may implement TearDowner, FaultResolver or Namer.
type Definition interface{}

// Constructor builds a Definition. It runs once, on the creating
// component's worker, and declares ports and handlers through ctx.
type Constructor func(ctx *Context) Definition

// WithInit binds an init value to a constructor that takes one.
func WithInit[I any](ctor func(ctx *Context, init I) Definition, init I) Constructor {
	return func(ctx *Context) Definition {
		return ctor(ctx, init)
	}
}

// TearDowner is called after all children stopped or were destroyed and
// before the parent is notified.
type TearDowner interface {
	TearDown()
}

// Namer names a component in logs and metrics. Without it the definition's
// type name is used.
type Namer interface {
	Name() string
}

func definitionName(def Definition) string {
	if n, ok := def.(Namer); ok {
		return n.Name()
	}
	if def == nil {
		return "component"
	}
	name := fmt.Sprintf("%T", def)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
