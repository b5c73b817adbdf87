package verify

import (
	"fmt"
	"sync"
)

// signalKind distinguishes recorded signals.
type signalKind int

const (
	signalSubscribe signalKind = iota + 1
	signalNext
	signalError
	signalComplete
)

// String returns the signal name used in traces.
func (k signalKind) String() string {
	switch k {
	case signalSubscribe:
		return "onSubscribe"
	case signalNext:
		return "onNext"
	case signalError:
		return "onError"
	case signalComplete:
		return "onComplete"
	default:
		return fmt.Sprintf("signal(%d)", int(k))
	}
}

// signal is one recorded event.
type signal[T any] struct {
	kind  signalKind
	value T
	err   error
}

func (s signal[T]) String() string {
	switch s.kind {
	case signalNext:
		return fmt.Sprintf("onNext(%v)", s.value)
	case signalError:
		return fmt.Sprintf("onError(%v)", s.err)
	default:
		return s.kind.String()
	}
}

// recorder is a thread-safe FIFO of signals.
//
// The subscriber appends from whatever goroutine the publisher signals on;
// the script consumes with TryDequeue and waits on Wait() in a select with
// the verification context. Every recorded signal is also kept in the trace.
type recorder[T any] struct {
	mu      sync.Mutex
	pending []signal[T]
	trace   []string
	signal  chan struct{} // buffered, size 1
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{
		pending: make([]signal[T], 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends sig and wakes a waiter.
func (r *recorder[T]) Enqueue(sig signal[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, sig)
	r.trace = append(r.trace, sig.String())

	// Non-blocking: the buffer of one coalesces wakeups.
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front signal without blocking.
func (r *recorder[T]) TryDequeue() (signal[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return signal[T]{}, false
	}
	sig := r.pending[0]
	r.pending[0] = signal[T]{}
	if len(r.pending) == 1 {
		r.pending = r.pending[:0]
	} else {
		r.pending = r.pending[1:]
	}
	return sig, true
}

// Peek returns the front signal without removing it.
func (r *recorder[T]) Peek() (signal[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return signal[T]{}, false
	}
	return r.pending[0], true
}

// Wait returns a channel that signals when signals may be available.
func (r *recorder[T]) Wait() <-chan struct{} {
	return r.signal
}

// Trace returns a copy of every signal recorded so far.
func (r *recorder[T]) Trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.trace))
	copy(out, r.trace)
	return out
}
