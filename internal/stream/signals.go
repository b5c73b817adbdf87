package stream

import "math"

// Unbounded is the demand value meaning "no backpressure".
const Unbounded int64 = math.MaxInt64

// Publisher emits items to subscribers on demand.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// Subscriber receives the signals of a single subscription.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Subscription links one Subscriber to its Publisher.
type Subscription interface {
	// Request adds n to the outstanding demand. Values <= 0 are ignored.
	Request(n int64)
	// Cancel stops delivery. Calling it more than once is a no-op.
	Cancel()
}

// ConditionalSubscriber can reject an item without consuming demand.
// TryOnNext returns true if the item counted against the requested amount.
type ConditionalSubscriber[T any] interface {
	Subscriber[T]
	TryOnNext(v T) bool
}

// AddCap adds two non-negative demand values, saturating at Unbounded.
func AddCap(a, b int64) int64 {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	r := a + b
	if r < 0 {
		return Unbounded
	}
	return r
}

// Produced subtracts n emitted items from requested, leaving Unbounded intact.
func Produced(requested, n int64) int64 {
	if requested == Unbounded {
		return Unbounded
	}
	r := requested - n
	if r < 0 {
		return 0
	}
	return r
}

// ValidateSubscription reports whether next may be accepted as the
// subscription of a subscriber that currently holds current. A second
// subscription is cancelled and rejected.
func ValidateSubscription(current, next Subscription) bool {
	if next == nil {
		return false
	}
	if current != nil {
		next.Cancel()
		return false
	}
	return true
}
