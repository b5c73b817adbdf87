package flux

import (
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// PublisherFunc adapts a function to a Publisher. The function is
// responsible for calling OnSubscribe before any other signal.
type PublisherFunc[T any] func(s stream.Subscriber[T])

// Subscribe calls f(s).
func (f PublisherFunc[T]) Subscribe(s stream.Subscriber[T]) { f(s) }

// Create returns a publisher that hands each subscriber to fn verbatim.
// No protocol is enforced, which makes it suitable for driving an operator's
// subscriber side directly.
func Create[T any](fn func(s stream.Subscriber[T])) stream.Publisher[T] {
	return PublisherFunc[T](fn)
}

// Empty returns a publisher that completes immediately.
func Empty[T any]() stream.Publisher[T] {
	return PublisherFunc[T](func(s stream.Subscriber[T]) {
		completeEmpty(s)
	})
}

// Error returns a publisher that fails immediately with err.
func Error[T any](err error) stream.Publisher[T] {
	return PublisherFunc[T](func(s stream.Subscriber[T]) {
		s.OnSubscribe(emptyQueue[T]{})
		s.OnError(err)
	})
}

func completeEmpty[T any](s stream.Subscriber[T]) {
	s.OnSubscribe(emptyQueue[T]{})
	s.OnComplete()
}

// emptyQueue is the subscription of an already terminated source. It only
// grants ASYNC so that a consumer polling it still waits for the terminal
// signal rather than completing on its own.
type emptyQueue[T any] struct{}

func (emptyQueue[T]) Request(int64) {}
func (emptyQueue[T]) Cancel()       {}

func (emptyQueue[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	return m & stream.Async
}

func (emptyQueue[T]) Poll() (T, bool, error) {
	var zero T
	return zero, false, nil
}

func (emptyQueue[T]) Size() int     { return 0 }
func (emptyQueue[T]) IsEmpty() bool { return true }
func (emptyQueue[T]) Clear()        {}

// Just returns a publisher emitting v then completing. It supports SYNC
// fusion.
func Just[T any](v T) stream.Publisher[T] {
	return PublisherFunc[T](func(s stream.Subscriber[T]) {
		s.OnSubscribe(&scalarSubscription[T]{actual: s, value: v})
	})
}

const (
	scalarReady int32 = iota
	scalarConsumed
	scalarCancelled
)

type scalarSubscription[T any] struct {
	actual stream.Subscriber[T]
	value  T
	state  atomic.Int32
}

func (s *scalarSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	if !s.state.CompareAndSwap(scalarReady, scalarConsumed) {
		return
	}
	s.actual.OnNext(s.value)
	if s.state.Load() != scalarCancelled {
		s.actual.OnComplete()
	}
}

func (s *scalarSubscription[T]) Cancel() {
	s.state.Store(scalarCancelled)
}

func (s *scalarSubscription[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if m.Has(stream.Sync) {
		return stream.Sync
	}
	return stream.None
}

func (s *scalarSubscription[T]) Poll() (T, bool, error) {
	if s.state.CompareAndSwap(scalarReady, scalarConsumed) {
		return s.value, true, nil
	}
	var zero T
	return zero, false, nil
}

func (s *scalarSubscription[T]) Size() int {
	if s.IsEmpty() {
		return 0
	}
	return 1
}

func (s *scalarSubscription[T]) IsEmpty() bool { return s.state.Load() != scalarReady }

func (s *scalarSubscription[T]) Clear() { s.state.CompareAndSwap(scalarReady, scalarConsumed) }

// Downstream implements stream.Producer.
func (s *scalarSubscription[T]) Downstream() any { return s.actual }
