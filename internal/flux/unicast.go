package flux

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// Unicast is a single-consumer buffering processor.
//
// Values pushed through its Subscriber side are queued until the one allowed
// downstream subscriber requests them. A second subscriber is rejected with
// ErrIllegalState. Unicast offers ASYNC fusion, including across a thread
// barrier, in which case OnNext only tells the consumer to poll.
type Unicast[T any] struct {
	queue *queue[T]

	mu     sync.Mutex
	actual stream.Subscriber[T]

	s          stream.Subscription
	subscribed atomic.Bool
	cancelled  atomic.Bool
	done       atomic.Bool
	err        error

	requested   atomic.Int64
	wip         atomic.Int32
	outputFused bool
}

// NewUnicast creates an empty Unicast.
func NewUnicast[T any]() *Unicast[T] {
	return &Unicast[T]{queue: newQueue[T]()}
}

// Subscribe implements stream.Publisher.
func (u *Unicast[T]) Subscribe(s stream.Subscriber[T]) {
	if !u.subscribed.CompareAndSwap(false, true) {
		s.OnSubscribe(stream.EmptySubscription)
		s.OnError(fmt.Errorf("%w: unicast allows only a single subscriber", stream.ErrIllegalState))
		return
	}
	s.OnSubscribe(u)
	if u.cancelled.Load() {
		return
	}
	u.mu.Lock()
	u.actual = s
	u.mu.Unlock()
	u.drain()
}

// Actual returns the current subscriber, or nil.
func (u *Unicast[T]) Actual() stream.Subscriber[T] {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.actual
}

// Downstream implements stream.Producer.
func (u *Unicast[T]) Downstream() any {
	if a := u.Actual(); a != nil {
		return a
	}
	return nil
}

// OnSubscribe implements stream.Subscriber. Upstream is requested unbounded.
func (u *Unicast[T]) OnSubscribe(s stream.Subscription) {
	if u.done.Load() || u.cancelled.Load() || !stream.ValidateSubscription(u.s, s) {
		s.Cancel()
		return
	}
	u.s = s
	s.Request(stream.Unbounded)
}

// OnNext implements stream.Subscriber. Values arriving after cancellation
// are discarded.
func (u *Unicast[T]) OnNext(v T) {
	if u.cancelled.Load() {
		return
	}
	if u.done.Load() {
		stream.NextDropped(u.Actual(), v)
		return
	}
	u.queue.Offer(v)
	u.drain()
}

// OnError implements stream.Subscriber.
func (u *Unicast[T]) OnError(err error) {
	if u.cancelled.Load() {
		return
	}
	if u.done.Load() {
		stream.ErrorDropped(u.Actual(), err)
		return
	}
	u.err = err
	u.done.Store(true)
	u.drain()
}

// OnComplete implements stream.Subscriber.
func (u *Unicast[T]) OnComplete() {
	if u.done.Load() || u.cancelled.Load() {
		return
	}
	u.done.Store(true)
	u.drain()
}

// Request implements stream.Subscription.
func (u *Unicast[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	addRequest(&u.requested, n)
	u.drain()
}

// Cancel implements stream.Subscription.
func (u *Unicast[T]) Cancel() {
	if u.cancelled.Swap(true) {
		return
	}
	if !u.outputFused {
		u.drain()
	}
}

// RequestFusion implements stream.QueueSubscription.
func (u *Unicast[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if m.Has(stream.Async) {
		u.outputFused = true
		return stream.Async
	}
	return stream.None
}

// Poll implements stream.QueueSubscription.
func (u *Unicast[T]) Poll() (T, bool, error) {
	v, ok := u.queue.Poll()
	return v, ok, nil
}

// Size returns the number of buffered values.
func (u *Unicast[T]) Size() int { return u.queue.Len() }

// IsEmpty implements stream.QueueSubscription.
func (u *Unicast[T]) IsEmpty() bool { return u.queue.Len() == 0 }

// Clear implements stream.QueueSubscription.
func (u *Unicast[T]) Clear() { u.queue.Clear() }

// Hooks implements stream.HooksCarrier.
func (u *Unicast[T]) Hooks() *stream.Hooks { return stream.HooksOf(u.Actual()) }

func (u *Unicast[T]) drain() {
	if u.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		if a := u.Actual(); a != nil {
			if u.outputFused {
				u.drainFused(a, missed)
			} else {
				u.drainRegular(a, missed)
			}
			return
		}
		if u.cancelled.Load() {
			u.queue.Clear()
		}
		missed = u.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (u *Unicast[T]) drainRegular(a stream.Subscriber[T], missed int32) {
	for {
		r := u.requested.Load()
		var e int64
		for e != r {
			d := u.done.Load()
			v, ok := u.queue.Poll()
			if u.checkTerminated(d, !ok, a) {
				return
			}
			if !ok {
				break
			}
			a.OnNext(v)
			e++
		}
		if e == r && u.checkTerminated(u.done.Load(), u.queue.Len() == 0, a) {
			return
		}
		if e != 0 && r != stream.Unbounded {
			u.requested.Add(-e)
		}
		missed = u.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (u *Unicast[T]) drainFused(a stream.Subscriber[T], missed int32) {
	for {
		if u.cancelled.Load() {
			u.detach()
			return
		}
		d := u.done.Load()
		var signal T
		a.OnNext(signal)
		if d {
			u.terminate(a)
			return
		}
		missed = u.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (u *Unicast[T]) checkTerminated(done, empty bool, a stream.Subscriber[T]) bool {
	if u.cancelled.Load() {
		u.queue.Clear()
		u.detach()
		return true
	}
	if done && empty {
		u.terminate(a)
		return true
	}
	return false
}

func (u *Unicast[T]) terminate(a stream.Subscriber[T]) {
	if u.err != nil {
		a.OnError(u.err)
		return
	}
	a.OnComplete()
}

func (u *Unicast[T]) detach() {
	u.mu.Lock()
	u.actual = nil
	u.mu.Unlock()
}
