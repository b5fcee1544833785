package queue

import (
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrNilItem is returned when a nil item is offered.
var ErrNilItem = errors.New("queue: nil item")

// spinlock guards the head and tail pointers. Critical sections are a few
// pointer swaps, so contenders yield instead of parking.
type spinlock struct {
	state atomic.Int32
}

func (l *spinlock) lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinlock) unlock() {
	l.state.Store(0)
}

// Queue is an unbounded multi-producer multi-consumer FIFO. Nodes come from
// the caller's FreeList on Offer and go back to the caller's FreeList on Poll.
type Queue[T any] struct {
	lock   spinlock
	head   *node[T] // dummy
	tail   *node[T]
	length atomic.Int64
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	dummy := &node[T]{}
	return &Queue[T]{head: dummy, tail: dummy}
}

// Offer appends item. fl may be nil.
func (q *Queue[T]) Offer(fl *FreeList[T], item T) error {
	if any(item) == nil {
		return ErrNilItem
	}
	n := fl.allocate(item)

	q.lock.lock()
	q.tail.next = n
	q.tail = n
	q.length.Add(1)
	q.lock.unlock()
	return nil
}

// Poll removes the oldest item. The second result is false when the queue
// is empty. fl may be nil.
func (q *Queue[T]) Poll(fl *FreeList[T]) (T, bool) {
	var zero T

	q.lock.lock()
	removed := q.head
	next := removed.next
	if next == nil {
		q.lock.unlock()
		return zero, false
	}
	item := next.item
	next.item = zero
	q.head = next
	q.length.Add(-1)
	q.lock.unlock()

	fl.free(removed)
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int(q.length.Load())
}

// IsEmpty reports whether the queue held no items at the time of the call.
func (q *Queue[T]) IsEmpty() bool {
	q.lock.lock()
	empty := q.head.next == nil
	q.lock.unlock()
	return empty
}
