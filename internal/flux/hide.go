package flux

import "github.com/roach88/streamcert/internal/stream"

// Hide returns a publisher that forwards every signal of source verbatim but
// masks its identity: the subscription handed downstream is neither fusable
// nor conditional. Terminal signals are not guarded, so protocol violations
// from source reach the downstream operator unchanged.
func Hide[T any](source stream.Publisher[T]) stream.Publisher[T] {
	return &hidePublisher[T]{source: source}
}

type hidePublisher[T any] struct {
	source stream.Publisher[T]
}

func (p *hidePublisher[T]) Subscribe(s stream.Subscriber[T]) {
	p.source.Subscribe(&hideSubscriber[T]{actual: s})
}

// Upstream implements stream.Receiver.
func (p *hidePublisher[T]) Upstream() any { return p.source }

type hideSubscriber[T any] struct {
	actual stream.Subscriber[T]
	s      stream.Subscription
}

func (h *hideSubscriber[T]) OnSubscribe(s stream.Subscription) {
	h.s = s
	h.actual.OnSubscribe(h)
}

func (h *hideSubscriber[T]) OnNext(v T)           { h.actual.OnNext(v) }
func (h *hideSubscriber[T]) OnError(err error)    { h.actual.OnError(err) }
func (h *hideSubscriber[T]) OnComplete()          { h.actual.OnComplete() }
func (h *hideSubscriber[T]) Request(n int64)      { h.s.Request(n) }
func (h *hideSubscriber[T]) Cancel()              { h.s.Cancel() }
func (h *hideSubscriber[T]) Hooks() *stream.Hooks { return stream.HooksOf(h.actual) }

// Upstream implements stream.Receiver.
func (h *hideSubscriber[T]) Upstream() any { return subscriptionOf(h.s) }

// Downstream implements stream.Producer.
func (h *hideSubscriber[T]) Downstream() any { return h.actual }
