package flux

import "github.com/roach88/streamcert/internal/stream"

// PeekHooks are side-effect callbacks run by Peek. Nil callbacks are skipped.
type PeekHooks struct {
	// OnSubscribe receives the upstream subscription before it is forwarded.
	OnSubscribe func(s stream.Subscription)
	OnComplete  func()
}

// Peek returns a publisher that runs the given callbacks as signals pass
// through. The subscription handed downstream is not fusable.
func Peek[T any](source stream.Publisher[T], hooks PeekHooks) stream.Publisher[T] {
	return &peekPublisher[T]{source: source, hooks: hooks}
}

// DoOnSubscribe is Peek with only an OnSubscribe callback.
func DoOnSubscribe[T any](source stream.Publisher[T], fn func(s stream.Subscription)) stream.Publisher[T] {
	return Peek(source, PeekHooks{OnSubscribe: fn})
}

// DoOnComplete is Peek with only an OnComplete callback.
func DoOnComplete[T any](source stream.Publisher[T], fn func()) stream.Publisher[T] {
	return Peek(source, PeekHooks{OnComplete: fn})
}

type peekPublisher[T any] struct {
	source stream.Publisher[T]
	hooks  PeekHooks
}

func (p *peekPublisher[T]) Subscribe(s stream.Subscriber[T]) {
	p.source.Subscribe(&peekSubscriber[T]{actual: s, hooks: p.hooks})
}

// Upstream implements stream.Receiver.
func (p *peekPublisher[T]) Upstream() any { return p.source }

// Prefetch implements stream.Prefetcher by reporting the upstream prefetch.
func (p *peekPublisher[T]) Prefetch() int {
	if pf, ok := p.source.(stream.Prefetcher); ok {
		return pf.Prefetch()
	}
	return int(stream.Unspecified)
}

type peekSubscriber[T any] struct {
	actual stream.Subscriber[T]
	hooks  PeekHooks
	s      stream.Subscription
	done   bool
}

func (p *peekSubscriber[T]) OnSubscribe(s stream.Subscription) {
	if !stream.ValidateSubscription(p.s, s) {
		return
	}
	if p.hooks.OnSubscribe != nil {
		p.hooks.OnSubscribe(s)
	}
	p.s = s
	p.actual.OnSubscribe(p)
}

func (p *peekSubscriber[T]) OnNext(v T) {
	if p.done {
		stream.NextDropped(p.actual, v)
		return
	}
	p.actual.OnNext(v)
}

func (p *peekSubscriber[T]) OnError(err error) {
	if p.done {
		stream.ErrorDropped(p.actual, err)
		return
	}
	p.done = true
	p.actual.OnError(err)
}

func (p *peekSubscriber[T]) OnComplete() {
	if p.done {
		return
	}
	p.done = true
	if p.hooks.OnComplete != nil {
		p.hooks.OnComplete()
	}
	p.actual.OnComplete()
}

func (p *peekSubscriber[T]) Request(n int64) { p.s.Request(n) }

func (p *peekSubscriber[T]) Cancel() { p.s.Cancel() }

func (p *peekSubscriber[T]) Hooks() *stream.Hooks { return stream.HooksOf(p.actual) }

// Upstream implements stream.Receiver.
func (p *peekSubscriber[T]) Upstream() any { return subscriptionOf(p.s) }

// Downstream implements stream.Producer.
func (p *peekSubscriber[T]) Downstream() any { return p.actual }
