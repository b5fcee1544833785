// Package queue provides the recycling FIFO used for ready components and
// component inboxes.
package queue

// DefaultFreeListSize is the number of spare nodes a FreeList keeps when no
// capacity is given.
const DefaultFreeListSize = 1000

// node is a single queue cell.
type node[T any] struct {
	item T
	next *node[T]
}

// FreeList is a bounded pool of spare queue nodes owned by one worker.
//
// A FreeList is not safe for concurrent use. Each worker keeps its own and
// passes it to Offer and Poll explicitly. A nil *FreeList is valid and
// simply allocates on every Offer and discards on every Poll.
type FreeList[T any] struct {
	head     *node[T]
	size     int
	capacity int

	// foundEmpty counts allocations that missed the pool
	foundEmpty uint64

	// foundFull counts freed nodes dropped because the pool was full
	foundFull uint64
}

// FreeListStats is a snapshot of a FreeList's counters.
type FreeListStats struct {
	Size       int
	Capacity   int
	FoundEmpty uint64
	FoundFull  uint64
}

// NewFreeList creates a FreeList holding at most capacity spare nodes.
func NewFreeList[T any](capacity int) *FreeList[T] {
	if capacity <= 0 {
		capacity = DefaultFreeListSize
	}
	return &FreeList[T]{capacity: capacity}
}

func (f *FreeList[T]) allocate(item T) *node[T] {
	if f == nil {
		return &node[T]{item: item}
	}
	n := f.head
	if n == nil {
		f.foundEmpty++
		return &node[T]{item: item}
	}
	f.head = n.next
	f.size--
	n.item = item
	n.next = nil
	return n
}

func (f *FreeList[T]) free(n *node[T]) {
	var zero T
	n.item = zero
	if f == nil {
		return
	}
	if f.size >= f.capacity {
		f.foundFull++
		return
	}
	n.next = f.head
	f.head = n
	f.size++
}

// Stats returns the current counters.
func (f *FreeList[T]) Stats() FreeListStats {
	if f == nil {
		return FreeListStats{}
	}
	return FreeListStats{
		Size:       f.size,
		Capacity:   f.capacity,
		FoundEmpty: f.foundEmpty,
		FoundFull:  f.foundFull,
	}
}
