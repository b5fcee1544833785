package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Port is one end of a typed connection. Ports come in pairs: the inside
// port is used by the declaring component, the outside port by its parent.
// Triggering on a port delivers at its pair and forwards through every
// channel connected to the pair.
type Port struct {
	portType *PortType
	polarity Polarity

	// owner runs the handlers subscribed here; nil for the root's outside ports
	owner *Component

	// declarer is the component that declared the pair
	declarer *Component

	pair    *Port
	control bool

	mu       sync.RWMutex
	subs     []*Subscription // copy on write
	channels []*Channel      // copy on write

	released atomic.Bool
}

func newPortPair(pt *PortType, inside Polarity, declarer, outsideOwner *Component) *Port {
	in := &Port{portType: pt, polarity: inside, owner: declarer, declarer: declarer}
	out := &Port{portType: pt, polarity: inside.Opposite(), owner: outsideOwner, declarer: declarer}
	in.pair = out
	out.pair = in
	if pt == ControlPort {
		in.control = true
		out.control = true
	}
	return in
}

// Type returns the port type.
func (p *Port) Type() *PortType {
	return p.portType
}

// Polarity returns the port polarity.
func (p *Port) Polarity() Polarity {
	return p.polarity
}

// Pair returns the other port of the pair.
func (p *Port) Pair() *Port {
	return p.pair
}

// Owner returns the component whose handlers run for this port.
func (p *Port) Owner() *Component {
	return p.owner
}

// Released reports whether the declaring component was destroyed.
func (p *Port) Released() bool {
	return p.released.Load()
}

func (p *Port) String() string {
	name := "<root>"
	if p.declarer != nil {
		name = p.declarer.id.String()
	}
	return fmt.Sprintf("%s(%s)@%s", p.portType.name, p.polarity, name)
}

func (p *Port) snapshot() ([]*Subscription, []*Channel) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subs, p.channels
}

func (p *Port) subscriptions() []*Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subs
}

// doTrigger sends ev out of p.
func (p *Port) doTrigger(ev Event, workerID int) {
	p.pair.deliver(ev, workerID)
}

// deliver hands ev to p's owner when a handler wants it, then forwards it
// through every channel connected to p.
func (p *Port) deliver(ev Event, workerID int) {
	if p.released.Load() {
		return
	}

	subs, chans := p.snapshot()
	if p.owner != nil && (p.control || anyMatch(subs, ev)) {
		p.owner.enqueue(delivery{port: p, event: ev}, workerID)
	}
	for _, ch := range chans {
		ch.forward(ev, p, workerID)
	}
}

func anyMatch(subs []*Subscription, ev Event) bool {
	for _, s := range subs {
		if s.matches(ev) {
			return true
		}
	}
	return false
}

func (p *Port) addSubscription(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := make([]*Subscription, len(p.subs), len(p.subs)+1)
	copy(subs, p.subs)
	p.subs = append(subs, s)
}

func (p *Port) removeSubscription(s *Subscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cur := range p.subs {
		if cur == s {
			subs := make([]*Subscription, 0, len(p.subs)-1)
			subs = append(subs, p.subs[:i]...)
			p.subs = append(subs, p.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Port) addChannel(ch *Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chans := make([]*Channel, len(p.channels), len(p.channels)+1)
	copy(chans, p.channels)
	p.channels = append(chans, ch)
}

func (p *Port) removeChannel(ch *Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, cur := range p.channels {
		if cur == ch {
			chans := make([]*Channel, 0, len(p.channels)-1)
			chans = append(chans, p.channels[:i]...)
			p.channels = append(chans, p.channels[i+1:]...)
			return
		}
	}
}

// Channels returns the channels connected to p.
func (p *Port) Channels() []*Channel {
	_, chans := p.snapshot()
	out := make([]*Channel, len(chans))
	copy(out, chans)
	return out
}

// ChannelsTo returns the channels connecting p and other.
func (p *Port) ChannelsTo(other *Port) []*Channel {
	_, chans := p.snapshot()
	var out []*Channel
	for _, ch := range chans {
		if ch.other(p) == other {
			out = append(out, ch)
		}
	}
	return out
}

// release stops all further delivery at p and disconnects its channels.
func (p *Port) release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	_, chans := p.snapshot()
	for _, ch := range chans {
		ch.Disconnect()
	}
}

// Subscription is a handler bound to a port.
type Subscription struct {
	port      *Port
	eventType string
	matches   func(Event) bool
	invoke    func(Event) error
}

// Port returns the port the handler is subscribed to.
func (s *Subscription) Port() *Port {
	return s.port
}

// EventType returns the name of the handled event type.
func (s *Subscription) EventType() string {
	return s.eventType
}
