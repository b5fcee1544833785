package core

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a component.
type State int32

const (
	// Starting is the initial state; the component has not received Start
	Starting State = iota

	// Active means handlers run for all events
	Active

	// Passive means the component stopped and can be restarted
	Passive

	// Destroyed is terminal
	Destroyed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Passive:
		return "passive"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Polarity marks the side of a port.
type Polarity uint8

const (
	// Positive ports receive indications
	Positive Polarity = iota

	// Negative ports receive requests
	Negative
)

// String returns the string representation of Polarity.
func (p Polarity) String() string {
	if p == Positive {
		return "positive"
	}
	return "negative"
}

// Opposite returns the other polarity.
func (p Polarity) Opposite() Polarity {
	if p == Positive {
		return Negative
	}
	return Positive
}

// ResolveAction is the outcome of handling a fault.
type ResolveAction uint8

const (
	// Escalate passes the fault to the parent
	Escalate ResolveAction = iota

	// Resolved means the fault was dealt with
	Resolved

	// Ignore drops the fault and keeps the component running. At the
	// runtime level the faulting component is restarted.
	Ignore

	// Destroy kills the faulting component. At the runtime level the
	// whole runtime shuts down.
	Destroy
)

// String returns the string representation of ResolveAction.
func (a ResolveAction) String() string {
	switch a {
	case Escalate:
		return "escalate"
	case Resolved:
		return "resolved"
	case Ignore:
		return "ignore"
	case Destroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// RestartScope selects what an ignored root-level fault restarts.
type RestartScope uint8

const (
	// RestartSubtree marks the faulting component and all descendants
	// passive before restarting
	RestartSubtree RestartScope = iota

	// RestartComponent marks only the faulting component passive
	RestartComponent
)

// String returns the string representation of RestartScope.
func (s RestartScope) String() string {
	if s == RestartComponent {
		return "component"
	}
	return "subtree"
}

// ComponentStats contains runtime statistics for a component.
type ComponentStats struct {
	ID     uuid.UUID
	Name   string
	State  State
	Parent uuid.UUID

	// Children is the number of live children
	Children int

	// Pending is the number of inbox events not yet executed
	Pending int

	EventsProcessed uint64
	CreatedAt       time.Time
	LastEventAt     time.Time
}
