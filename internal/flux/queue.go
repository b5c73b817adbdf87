package flux

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// queue is a thread-safe unbounded FIFO.
//
// It backs the asynchronous sources (Unicast, groups of GroupBy) and the
// pending-group buffer of GroupBy. A single consumer drains it; producers may
// offer from any goroutine.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// newQueue creates an empty queue.
func newQueue[T any]() *queue[T] {
	return &queue[T]{items: make([]T, 0, 16)}
}

// Offer appends v at the back of the queue.
func (q *queue[T]) Offer(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
}

// Poll removes and returns the front item.
// Returns (zero, false) if the queue is empty.
func (q *queue[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]

	// Nil out the slot so the backing array does not retain the item.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return v, true
}

// Len returns the current queue length.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued item.
func (q *queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
}

// addRequest adds n to r, saturating at Unbounded, and returns the previous value.
func addRequest(r *atomic.Int64, n int64) int64 {
	for {
		cur := r.Load()
		if cur == stream.Unbounded {
			return cur
		}
		if r.CompareAndSwap(cur, stream.AddCap(cur, n)) {
			return cur
		}
	}
}

// subscriptionOf returns s as an untyped value, keeping nil untyped.
func subscriptionOf(s stream.Subscription) any {
	if s == nil {
		return nil
	}
	return s
}
