package flux

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// Violation is a protocol rule a TestPublisher is allowed to break.
type Violation int

const (
	// CleanupOnTerminate keeps subscribers attached after a terminal signal,
	// so further Next/Error/Complete calls still reach them.
	CleanupOnTerminate Violation = iota + 1

	// RequestOverflow emits values regardless of outstanding demand.
	RequestOverflow
)

// String returns the violation name.
func (v Violation) String() string {
	switch v {
	case CleanupOnTerminate:
		return "CLEANUP_ON_TERMINATE"
	case RequestOverflow:
		return "REQUEST_OVERFLOW"
	default:
		return fmt.Sprintf("Violation(%d)", int(v))
	}
}

// TestPublisher is a manually driven publisher.
//
// A compliant TestPublisher honors demand (a value without demand fails that
// subscriber with ErrOverflow) and detaches subscribers on termination. The
// violations given at construction disable these rules, which lets a test
// push signals after a terminal signal.
type TestPublisher[T any] struct {
	cleanupOnTerminate bool
	requestOverflow    bool

	mu         sync.Mutex
	subs       []*testSubscription[T]
	terminated bool
	err        error
}

// NewTestPublisher creates a TestPublisher breaking the given rules.
func NewTestPublisher[T any](violations ...Violation) *TestPublisher[T] {
	p := &TestPublisher[T]{}
	for _, v := range violations {
		switch v {
		case CleanupOnTerminate:
			p.cleanupOnTerminate = true
		case RequestOverflow:
			p.requestOverflow = true
		}
	}
	return p
}

// Subscribe implements stream.Publisher. A subscriber arriving after
// termination receives the terminal signal immediately.
func (p *TestPublisher[T]) Subscribe(s stream.Subscriber[T]) {
	sub := &testSubscription[T]{parent: p, actual: s}
	p.mu.Lock()
	terminated, err := p.terminated, p.err
	if !terminated || p.cleanupOnTerminate {
		p.subs = append(p.subs, sub)
	}
	p.mu.Unlock()

	s.OnSubscribe(sub)
	if terminated && !p.cleanupOnTerminate {
		if err != nil {
			s.OnError(err)
		} else {
			s.OnComplete()
		}
	}
}

// Next emits values to every attached subscriber.
func (p *TestPublisher[T]) Next(vs ...T) {
	for _, v := range vs {
		for _, sub := range p.snapshot() {
			sub.emit(v)
		}
	}
}

// Error terminates every attached subscriber with err.
func (p *TestPublisher[T]) Error(err error) {
	for _, sub := range p.terminate(err) {
		if !sub.cancelled.Load() {
			sub.actual.OnError(err)
		}
	}
}

// Complete terminates every attached subscriber.
func (p *TestPublisher[T]) Complete() {
	for _, sub := range p.terminate(nil) {
		if !sub.cancelled.Load() {
			sub.actual.OnComplete()
		}
	}
}

// Downstreams implements stream.MultiProducer.
func (p *TestPublisher[T]) Downstreams() []any {
	subs := p.snapshot()
	out := make([]any, len(subs))
	for i, s := range subs {
		out[i] = s.actual
	}
	return out
}

// DownstreamCount implements stream.MultiProducer.
func (p *TestPublisher[T]) DownstreamCount() int { return len(p.snapshot()) }

// HasDownstreams implements stream.MultiProducer.
func (p *TestPublisher[T]) HasDownstreams() bool { return p.DownstreamCount() > 0 }

func (p *TestPublisher[T]) snapshot() []*testSubscription[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.subs)
}

func (p *TestPublisher[T]) terminate(err error) []*testSubscription[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := slices.Clone(p.subs)
	p.terminated, p.err = true, err
	if !p.cleanupOnTerminate {
		p.subs = nil
	}
	return subs
}

func (p *TestPublisher[T]) remove(sub *testSubscription[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = slices.DeleteFunc(p.subs, func(s *testSubscription[T]) bool { return s == sub })
}

type testSubscription[T any] struct {
	parent    *TestPublisher[T]
	actual    stream.Subscriber[T]
	requested atomic.Int64
	cancelled atomic.Bool
}

func (s *testSubscription[T]) emit(v T) {
	if s.cancelled.Load() {
		return
	}
	if s.parent.requestOverflow {
		s.actual.OnNext(v)
		return
	}
	for {
		r := s.requested.Load()
		if r == 0 {
			s.parent.remove(s)
			s.actual.OnError(fmt.Errorf("%w: can't deliver value %v", stream.ErrOverflow, v))
			return
		}
		if r == stream.Unbounded || s.requested.CompareAndSwap(r, r-1) {
			break
		}
	}
	s.actual.OnNext(v)
}

func (s *testSubscription[T]) Request(n int64) {
	if n > 0 {
		addRequest(&s.requested, n)
	}
}

func (s *testSubscription[T]) Cancel() {
	if !s.cancelled.Swap(true) {
		s.parent.remove(s)
	}
}

// Downstream implements stream.Producer.
func (s *testSubscription[T]) Downstream() any { return s.actual }
