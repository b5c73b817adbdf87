package stream

import "strings"

// FusionMode is a bitset over the fusion capabilities a subscription can
// offer and a consumer can request.
type FusionMode int

const (
	// None means signalled delivery only.
	None FusionMode = 0
	// Sync means the consumer drains a finite queue by polling, without Request.
	Sync FusionMode = 1
	// Async means the consumer polls whenever OnNext signals availability.
	Async FusionMode = 2
	// Any requests whichever of Sync or Async the producer supports.
	Any FusionMode = Sync | Async
	// ThreadBarrier declares that polling may happen on another thread than
	// the one that runs the producer's user callbacks. Producers must only
	// grant modes that stay correct across such a hop.
	ThreadBarrier FusionMode = 4
)

// Has reports whether all bits of o are set in m.
func (m FusionMode) Has(o FusionMode) bool {
	return o != None && m&o == o
}

// String renders the mode as its flag names joined by "|".
func (m FusionMode) String() string {
	if m == None {
		return "NONE"
	}
	var parts []string
	switch m & Any {
	case Any:
		parts = append(parts, "ANY")
	case Sync:
		parts = append(parts, "SYNC")
	case Async:
		parts = append(parts, "ASYNC")
	}
	if m&ThreadBarrier != 0 {
		parts = append(parts, "THREAD_BARRIER")
	}
	return strings.Join(parts, "|")
}

// QueueSubscription is a Subscription that can be drained directly.
//
// Poll returns the next item and true, or the zero value and false when no
// item is currently available. A non-nil error means the queue failed; the
// consumer treats it as the terminal error of the sequence.
type QueueSubscription[T any] interface {
	Subscription
	// RequestFusion negotiates a mode; the result is a subset of requested.
	RequestFusion(requested FusionMode) FusionMode
	Poll() (T, bool, error)
	Size() int
	IsEmpty() bool
	Clear()
}
