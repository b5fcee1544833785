package core

import (
	"reflect"
	"strings"
)

// eventSpec is one event type a port type allows in one direction.
type eventSpec struct {
	typ     reflect.Type
	matches func(Event) bool
}

func specFor[E Event]() eventSpec {
	return eventSpec{
		typ: reflect.TypeOf((*E)(nil)).Elem(),
		matches: func(ev Event) bool {
			_, ok := ev.(E)
			return ok
		},
	}
}

// PortTypeOption adds an allowed event type to a PortType.
type PortTypeOption func(*PortType)

// Request allows events of type E to flow towards the providing side,
// arriving at negative ports.
func Request[E Event]() PortTypeOption {
	return func(pt *PortType) {
		pt.negative = append(pt.negative, specFor[E]())
	}
}

// Indication allows events of type E to flow towards the requiring side,
// arriving at positive ports.
func Indication[E Event]() PortTypeOption {
	return func(pt *PortType) {
		pt.positive = append(pt.positive, specFor[E]())
	}
}

// PortType declares which events a port carries in each direction. Port
// types are compared by identity; declare each one once as a package
// variable.
type PortType struct {
	name     string
	positive []eventSpec
	negative []eventSpec
}

// NewPortType creates a port type.
func NewPortType(name string, opts ...PortTypeOption) *PortType {
	pt := &PortType{name: name}
	for _, opt := range opts {
		opt(pt)
	}
	return pt
}

// Name returns the port type name.
func (pt *PortType) Name() string {
	return pt.name
}

func (pt *PortType) String() string {
	return pt.name
}

func (pt *PortType) specs(p Polarity) []eventSpec {
	if p == Positive {
		return pt.positive
	}
	return pt.negative
}

// Allows reports whether ev may arrive at a port of polarity p.
func (pt *PortType) Allows(ev Event, p Polarity) bool {
	for _, s := range pt.specs(p) {
		if s.matches(ev) {
			return true
		}
	}
	return false
}

// allowsType reports whether a handler for t can ever fire on a port of
// polarity p: t is one of the declared types, one of their interfaces or
// an implementation of a declared interface.
func (pt *PortType) allowsType(t reflect.Type, p Polarity) bool {
	for _, s := range pt.specs(p) {
		if t == s.typ || t.AssignableTo(s.typ) {
			return true
		}
		if t.Kind() == reflect.Interface && s.typ.Implements(t) {
			return true
		}
	}
	return false
}

// Events lists the allowed event type names for polarity p.
func (pt *PortType) Events(p Polarity) []string {
	specs := pt.specs(p)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.typ.String()
	}
	return names
}

// Describe returns a one-line summary of the port type.
func (pt *PortType) Describe() string {
	var b strings.Builder
	b.WriteString(pt.name)
	b.WriteString("{requests: [")
	b.WriteString(strings.Join(pt.Events(Negative), ", "))
	b.WriteString("], indications: [")
	b.WriteString(strings.Join(pt.Events(Positive), ", "))
	b.WriteString("]}")
	return b.String()
}

// ControlPort carries lifecycle events. Every component has one.
var ControlPort = NewPortType("Control",
	Request[Start](),
	Request[Stop](),
	Request[Kill](),
	Indication[Started](),
	Indication[Stopped](),
	Indication[Killed](),
	Indication[*Fault](),
)

// LoopbackPort lets a component send any event to itself.
var LoopbackPort = NewPortType("Loopback",
	Request[Event](),
	Indication[Event](),
)
