package flux

import (
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// Iterator yields values until it returns false.
type Iterator[T any] interface {
	Next() (T, bool)
}

// IteratorFunc adapts a function to an Iterator.
type IteratorFunc[T any] func() (T, bool)

// Next calls f().
func (f IteratorFunc[T]) Next() (T, bool) { return f() }

// FromIterable returns a publisher that emits the values of a fresh iterator
// per subscriber. It honors backpressure, uses TryOnNext for conditional
// subscribers and supports SYNC fusion.
func FromIterable[T any](newIter func() Iterator[T]) stream.Publisher[T] {
	return PublisherFunc[T](func(s stream.Subscriber[T]) {
		sub := &iterableSubscription[T]{actual: s, it: newIter()}
		if !sub.peek() {
			completeEmpty(s)
			return
		}
		sub.cond, _ = s.(stream.ConditionalSubscriber[T])
		s.OnSubscribe(sub)
	})
}

// Generate returns a publisher emitting fn(0) .. fn(n-1). Values are produced
// lazily, one lookahead at a time, and every subscriber starts at index 0.
func Generate[T any](n int, fn func(i int) T) stream.Publisher[T] {
	return FromIterable(func() Iterator[T] {
		i := 0
		return IteratorFunc[T](func() (T, bool) {
			if i >= n {
				var zero T
				return zero, false
			}
			v := fn(i)
			i++
			return v, true
		})
	})
}

// FromSlice returns a publisher emitting the given values.
func FromSlice[T any](vs ...T) stream.Publisher[T] {
	return Generate(len(vs), func(i int) T { return vs[i] })
}

type iterableSubscription[T any] struct {
	actual stream.Subscriber[T]
	cond   stream.ConditionalSubscriber[T]
	it     Iterator[T]

	// lookahead state, only touched by the emitting goroutine
	next      T
	hasNext   bool
	exhausted bool

	requested atomic.Int64
	cancelled atomic.Bool
}

// peek makes sure a lookahead value is buffered if one exists.
func (s *iterableSubscription[T]) peek() bool {
	if !s.hasNext && !s.exhausted {
		v, ok := s.it.Next()
		if ok {
			s.next, s.hasNext = v, true
		} else {
			s.exhausted = true
		}
	}
	return s.hasNext
}

func (s *iterableSubscription[T]) take() T {
	var zero T
	v := s.next
	s.next, s.hasNext = zero, false
	return v
}

func (s *iterableSubscription[T]) emit(v T) bool {
	if s.cond != nil {
		return s.cond.TryOnNext(v)
	}
	s.actual.OnNext(v)
	return true
}

func (s *iterableSubscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	if addRequest(&s.requested, n) != 0 {
		return
	}
	if n == stream.Unbounded {
		s.fastPath()
		return
	}
	s.slowPath(n)
}

func (s *iterableSubscription[T]) fastPath() {
	for {
		if s.cancelled.Load() {
			return
		}
		s.emit(s.take())
		if s.cancelled.Load() {
			return
		}
		if !s.peek() {
			s.actual.OnComplete()
			return
		}
	}
}

func (s *iterableSubscription[T]) slowPath(n int64) {
	var e int64
	for {
		for e != n {
			if s.cancelled.Load() {
				return
			}
			emitted := s.emit(s.take())
			if s.cancelled.Load() {
				return
			}
			if !s.peek() {
				s.actual.OnComplete()
				return
			}
			if emitted {
				e++
			}
		}

		n = s.requested.Load()
		if n == e {
			n = s.requested.Add(-e)
			if n == 0 {
				return
			}
			e = 0
		}
	}
}

func (s *iterableSubscription[T]) Cancel() { s.cancelled.Store(true) }

func (s *iterableSubscription[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if m.Has(stream.Sync) {
		return stream.Sync
	}
	return stream.None
}

func (s *iterableSubscription[T]) Poll() (T, bool, error) {
	if s.peek() {
		return s.take(), true, nil
	}
	var zero T
	return zero, false, nil
}

func (s *iterableSubscription[T]) Size() int {
	if s.peek() {
		return 1
	}
	return 0
}

func (s *iterableSubscription[T]) IsEmpty() bool { return !s.peek() }

func (s *iterableSubscription[T]) Clear() {
	var zero T
	s.next, s.hasNext, s.exhausted = zero, false, true
}

// Downstream implements stream.Producer.
func (s *iterableSubscription[T]) Downstream() any { return s.actual }
