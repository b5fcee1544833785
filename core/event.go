package core

import (
	"sync"

	"github.com/google/uuid"
)

// Event is any value flowing through ports.
type Event interface{}

// Start activates a component and, after its own Start handlers, its
// children.
type Start struct{}

// Stop makes a component passive once all its children stopped.
type Stop struct{}

// Kill destroys a component and its subtree.
type Kill struct{}

// Started is sent to the parent when a component became active.
type Started struct{ ID uuid.UUID }

// Stopped is sent to the parent when a component became passive.
type Stopped struct{ ID uuid.UUID }

// Killed is sent to the parent when a component was destroyed.
type Killed struct{ ID uuid.UUID }

// DirectRequest is a request that is answered straight back to the port
// it was triggered on. Implement it by embedding Direct in a struct and
// triggering a pointer to that struct.
type DirectRequest interface {
	Event
	direct() *Direct
}

// DirectResponse is the answer to a DirectRequest. Implement it by
// embedding Reply.
type DirectResponse interface {
	Event
	reply()
}

// Direct carries the correlation state of a DirectRequest.
type Direct struct {
	mu       sync.Mutex
	origin   *Port
	answered bool
	response DirectResponse
}

func (d *Direct) direct() *Direct { return d }

// SetResponse stores the response sent by Context.Answer.
func (d *Direct) SetResponse(resp DirectResponse) {
	d.mu.Lock()
	d.response = resp
	d.mu.Unlock()
}

// Response returns the stored response, if any.
func (d *Direct) Response() DirectResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.response
}

// Answered reports whether the request was answered.
func (d *Direct) Answered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answered
}

func (d *Direct) stamp(origin *Port) {
	d.mu.Lock()
	d.origin = origin
	d.mu.Unlock()
}

// claim marks the request answered and returns where the answer goes.
func (d *Direct) claim() (*Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.origin == nil {
		return nil, ErrNotTriggered
	}
	if d.answered {
		return nil, ErrAlreadyAnswered
	}
	d.answered = true
	return d.origin, nil
}

// Reply marks a struct as a DirectResponse.
type Reply struct{}

func (Reply) reply() {}
