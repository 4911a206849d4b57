package game

import (
	"runtime"
	"sync/atomic"
)

// CacheLineSize is the typical CPU cache line size (64 bytes on x86-64)
const CacheLineSize = 64

// padding keeps hot counters on separate cache lines
type padding [CacheLineSize]byte

// slot pairs a value with the sequence number that says who may touch it.
// seq == pos: free for the producer claiming pos.
// seq == pos+1: filled, readable by the consumer at pos.
type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// LockFreeQueue is a bounded MPSC ring buffer (Vyukov). Any number of
// goroutines may push; only the tick goroutine pops. Producers never block
// the consumer and the consumer never observes a half-written slot.
//
// Memory Layout (prevents false sharing):
// [padding][head][padding][tail][padding][slots...]
type LockFreeQueue[T any] struct {
	_pad0 padding

	head  atomic.Uint64 // Next position to claim (producers)
	_pad1 padding

	tail  atomic.Uint64 // Next position to read (consumer)
	_pad2 padding

	mask  uint64 // Capacity mask for fast modulo (capacity-1)
	slots []slot[T]
}

// NewLockFreeQueue creates a queue. Capacity is rounded up to a power of 2.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &LockFreeQueue[T]{
		mask:  uint64(size - 1),
		slots: make([]slot[T], size),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// TryPush adds an item. Returns false if the queue is full.
// Safe for multiple concurrent producers.
func (q *LockFreeQueue[T]) TryPush(item T) bool {
	for {
		pos := q.head.Load()
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()

		switch {
		case seq == pos:
			if q.head.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1) // publish
				return true
			}
		case seq < pos:
			return false // Full: slot still holds an unread item
		}

		// Another producer won the slot, retry
		runtime.Gosched()
	}
}

// TryPop removes the oldest item. Returns (zero, false) if the queue is empty
// or the next item is still being written. Single consumer only.
func (q *LockFreeQueue[T]) TryPop() (T, bool) {
	var zero T

	pos := q.tail.Load()
	s := &q.slots[pos&q.mask]
	if s.seq.Load() != pos+1 {
		return zero, false
	}

	item := s.item
	s.item = zero
	s.seq.Store(pos + q.mask + 1) // free for the producer one lap ahead
	q.tail.Store(pos + 1)
	return item, true
}

// DrainTo pops up to len(buf) items into buf and returns the count.
func (q *LockFreeQueue[T]) DrainTo(buf []T) int {
	count := 0
	for count < len(buf) {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		buf[count] = item
		count++
	}
	return count
}

// Len returns the approximate number of items in the queue
func (q *LockFreeQueue[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the queue capacity
func (q *LockFreeQueue[T]) Cap() int {
	return int(q.mask + 1)
}
