package flux

import "github.com/roach88/streamcert/internal/stream"

// ErrorOnPoll returns a publisher that forwards source unchanged except that
// a fused Poll returns err instead of the value upstream produced. It is used
// to simulate a failing fused source.
func ErrorOnPoll[T any](source stream.Publisher[T], err error) stream.Publisher[T] {
	return &errorOnPollPublisher[T]{source: source, err: err}
}

// ErrorOnPollNext delivers v straight to the subscriber sitting behind an
// ErrorOnPoll stage, bypassing it. For any other subscriber it calls OnNext.
func ErrorOnPollNext[T any](s stream.Subscriber[T], v T) {
	if e, ok := s.(*errorOnPollSubscriber[T]); ok {
		e.actual.OnNext(v)
		return
	}
	s.OnNext(v)
}

// ErrorOnPollShouldTryNext reports whether the subscriber behind an
// ErrorOnPoll stage is both conditional and fusable.
func ErrorOnPollShouldTryNext[T any](s stream.Subscriber[T]) bool {
	e, ok := s.(*errorOnPollSubscriber[T])
	if !ok {
		return false
	}
	_, conditional := e.actual.(stream.ConditionalSubscriber[T])
	_, fusable := e.actual.(stream.QueueSubscription[T])
	return conditional && fusable
}

// ErrorOnPollTryNext delivers v through TryOnNext of the subscriber behind an
// ErrorOnPoll stage. It is a no-op unless ErrorOnPollShouldTryNext holds.
func ErrorOnPollTryNext[T any](s stream.Subscriber[T], v T) {
	if !ErrorOnPollShouldTryNext(s) {
		return
	}
	e := s.(*errorOnPollSubscriber[T])
	e.actual.(stream.ConditionalSubscriber[T]).TryOnNext(v)
}

type errorOnPollPublisher[T any] struct {
	source stream.Publisher[T]
	err    error
}

func (p *errorOnPollPublisher[T]) Subscribe(s stream.Subscriber[T]) {
	p.source.Subscribe(&errorOnPollSubscriber[T]{actual: s, err: p.err})
}

// Upstream implements stream.Receiver.
func (p *errorOnPollPublisher[T]) Upstream() any { return p.source }

type errorOnPollSubscriber[T any] struct {
	actual stream.Subscriber[T]
	err    error
	s      stream.Subscription
	qs     stream.QueueSubscription[T]
}

func (e *errorOnPollSubscriber[T]) OnSubscribe(s stream.Subscription) {
	e.s = s
	e.qs, _ = s.(stream.QueueSubscription[T])
	e.actual.OnSubscribe(e)
}

func (e *errorOnPollSubscriber[T]) OnNext(v T) { e.actual.OnNext(v) }

func (e *errorOnPollSubscriber[T]) OnError(err error) { e.actual.OnError(err) }

func (e *errorOnPollSubscriber[T]) OnComplete() { e.actual.OnComplete() }

func (e *errorOnPollSubscriber[T]) Request(n int64) { e.s.Request(n) }

func (e *errorOnPollSubscriber[T]) Cancel() { e.s.Cancel() }

func (e *errorOnPollSubscriber[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if e.qs == nil {
		return stream.None
	}
	return e.qs.RequestFusion(m)
}

func (e *errorOnPollSubscriber[T]) Poll() (T, bool, error) {
	var zero T
	_, ok, err := e.qs.Poll()
	if err != nil {
		return zero, false, err
	}
	if ok {
		return zero, false, e.err
	}
	return zero, false, nil
}

func (e *errorOnPollSubscriber[T]) Size() int {
	if e.qs == nil {
		return 0
	}
	return e.qs.Size()
}

func (e *errorOnPollSubscriber[T]) IsEmpty() bool { return e.qs == nil || e.qs.IsEmpty() }

func (e *errorOnPollSubscriber[T]) Clear() {
	if e.qs != nil {
		e.qs.Clear()
	}
}

func (e *errorOnPollSubscriber[T]) Hooks() *stream.Hooks { return stream.HooksOf(e.actual) }

// Upstream implements stream.Receiver.
func (e *errorOnPollSubscriber[T]) Upstream() any { return subscriptionOf(e.s) }

// Downstream implements stream.Producer.
func (e *errorOnPollSubscriber[T]) Downstream() any { return e.actual }
