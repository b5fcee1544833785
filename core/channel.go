package core

import (
	"fmt"
	"sync/atomic"
)

// Selector filters events crossing a channel. dir is the polarity of the
// port the event was delivered at: Positive for indications, Negative for
// requests.
type Selector interface {
	Select(ev Event, dir Polarity) bool
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(ev Event, dir Polarity) bool

// Select calls f.
func (f SelectorFunc) Select(ev Event, dir Polarity) bool {
	return f(ev, dir)
}

// SelectEvents returns a Selector that applies pred to events of type E
// travelling in direction dir and lets every other event through.
func SelectEvents[E Event](dir Polarity, pred func(E) bool) Selector {
	return SelectorFunc(func(ev Event, d Polarity) bool {
		if d != dir {
			return true
		}
		e, ok := ev.(E)
		if !ok {
			return true
		}
		return pred(e)
	})
}

// ChannelFactory builds the channel for a connect call.
type ChannelFactory func(positive, negative *Port, sel Selector) *Channel

var (
	// TwoWay forwards requests and indications.
	TwoWay ChannelFactory = func(pos, neg *Port, sel Selector) *Channel {
		return newChannel(pos, neg, sel, true, true)
	}

	// OneWayPositive forwards indications only.
	OneWayPositive ChannelFactory = func(pos, neg *Port, sel Selector) *Channel {
		return newChannel(pos, neg, sel, true, false)
	}

	// OneWayNegative forwards requests only.
	OneWayNegative ChannelFactory = func(pos, neg *Port, sel Selector) *Channel {
		return newChannel(pos, neg, sel, false, true)
	}
)

var channelIDs atomic.Uint64

// Channel connects a positive and a negative port of the same port type.
type Channel struct {
	id       uint64
	positive *Port
	negative *Port
	selector Selector

	// forward indications (delivered at positive) and requests (delivered at negative)
	passPositive bool
	passNegative bool

	connected atomic.Bool
}

func newChannel(pos, neg *Port, sel Selector, passPositive, passNegative bool) *Channel {
	ch := &Channel{
		id:           channelIDs.Add(1),
		positive:     pos,
		negative:     neg,
		selector:     sel,
		passPositive: passPositive,
		passNegative: passNegative,
	}
	ch.connected.Store(true)
	return ch
}

// Positive returns the positive end.
func (ch *Channel) Positive() *Port {
	return ch.positive
}

// Negative returns the negative end.
func (ch *Channel) Negative() *Port {
	return ch.negative
}

// IsConnected reports whether Disconnect has not been called yet.
func (ch *Channel) IsConnected() bool {
	return ch.connected.Load()
}

func (ch *Channel) String() string {
	return fmt.Sprintf("channel#%d[%s <-> %s]", ch.id, ch.positive, ch.negative)
}

func (ch *Channel) other(p *Port) *Port {
	if p == ch.positive {
		return ch.negative
	}
	return ch.positive
}

func (ch *Channel) forward(ev Event, from *Port, workerID int) {
	if !ch.connected.Load() {
		return
	}
	dir := from.polarity
	if dir == Positive && !ch.passPositive || dir == Negative && !ch.passNegative {
		return
	}
	if ch.selector != nil && !ch.selector.Select(ev, dir) {
		return
	}
	ch.other(from).doTrigger(ev, workerID)
}

// Disconnect removes the channel from both ports. Calling it again is a
// no-op. Events already queued at the destination are still executed.
func (ch *Channel) Disconnect() {
	if !ch.connected.CompareAndSwap(true, false) {
		return
	}
	ch.positive.removeChannel(ch)
	ch.negative.removeChannel(ch)
}

// ConnectOption configures Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	selector Selector
	factory  ChannelFactory
}

// WithSelector filters the events the channel forwards.
func WithSelector(sel Selector) ConnectOption {
	return func(o *connectOptions) { o.selector = sel }
}

// WithChannel sets the channel factory. The default is TwoWay.
func WithChannel(f ChannelFactory) ConnectOption {
	return func(o *connectOptions) { o.factory = f }
}

// Connect joins a positive and a negative port of the same type. The ports
// may be given in either order.
func Connect(a, b *Port, opts ...ConnectOption) (*Channel, error) {
	if a == nil || b == nil {
		return nil, configError("connect", ErrNilPort)
	}
	if a.portType != b.portType {
		return nil, configError("connect", fmt.Errorf("%w: %s and %s", ErrPortTypeMismatch, a.portType, b.portType))
	}
	if a.polarity == b.polarity {
		return nil, configError("connect", fmt.Errorf("%w: both %s", ErrPolarity, a.polarity))
	}
	if a.Released() || b.Released() {
		return nil, configError("connect", ErrPortReleased)
	}

	o := connectOptions{factory: TwoWay}
	for _, opt := range opts {
		opt(&o)
	}

	pos, neg := a, b
	if a.polarity == Negative {
		pos, neg = b, a
	}

	ch := o.factory(pos, neg, o.selector)
	if ch == nil {
		return nil, configError("connect", ErrNilChannel)
	}
	pos.addChannel(ch)
	neg.addChannel(ch)
	return ch, nil
}

// DisconnectPorts removes every channel between a and b and returns how
// many were removed.
func DisconnectPorts(a, b *Port) int {
	if a == nil || b == nil {
		return 0
	}
	chans := a.ChannelsTo(b)
	for _, ch := range chans {
		ch.Disconnect()
	}
	return len(chans)
}
