package flux

import "github.com/roach88/streamcert/internal/stream"

// Map returns a publisher applying fn to every value of source.
//
// A non-nil error from fn cancels upstream and terminates the sequence with
// that error. Signals arriving after termination are routed to the drop hooks
// of the downstream subscriber. Map is conditional and forwards fusion
// upstream, except across a thread barrier.
func Map[T, R any](source stream.Publisher[T], fn func(T) (R, error)) stream.Publisher[R] {
	return &mapPublisher[T, R]{source: source, fn: fn}
}

type mapPublisher[T, R any] struct {
	source stream.Publisher[T]
	fn     func(T) (R, error)
}

func (p *mapPublisher[T, R]) Subscribe(s stream.Subscriber[R]) {
	m := &mapSubscriber[T, R]{actual: s, fn: p.fn}
	m.cond, _ = s.(stream.ConditionalSubscriber[R])
	p.source.Subscribe(m)
}

// Upstream implements stream.Receiver.
func (p *mapPublisher[T, R]) Upstream() any { return p.source }

type mapSubscriber[T, R any] struct {
	actual stream.Subscriber[R]
	cond   stream.ConditionalSubscriber[R]
	fn     func(T) (R, error)

	s          stream.Subscription
	qs         stream.QueueSubscription[T]
	sourceMode stream.FusionMode
	done       bool
}

func (m *mapSubscriber[T, R]) OnSubscribe(s stream.Subscription) {
	if !stream.ValidateSubscription(m.s, s) {
		return
	}
	m.s = s
	m.qs, _ = s.(stream.QueueSubscription[T])
	m.actual.OnSubscribe(m)
}

func (m *mapSubscriber[T, R]) OnNext(v T) {
	if m.done {
		stream.NextDropped(m.actual, v)
		return
	}
	if m.sourceMode == stream.Async {
		var signal R
		m.actual.OnNext(signal)
		return
	}
	r, err := m.fn(v)
	if err != nil {
		m.s.Cancel()
		m.OnError(err)
		return
	}
	m.actual.OnNext(r)
}

func (m *mapSubscriber[T, R]) TryOnNext(v T) bool {
	if m.done {
		stream.NextDropped(m.actual, v)
		return true
	}
	r, err := m.fn(v)
	if err != nil {
		m.s.Cancel()
		m.OnError(err)
		return true
	}
	if m.cond != nil {
		return m.cond.TryOnNext(r)
	}
	m.actual.OnNext(r)
	return true
}

func (m *mapSubscriber[T, R]) OnError(err error) {
	if m.done {
		stream.ErrorDropped(m.actual, err)
		return
	}
	m.done = true
	m.actual.OnError(err)
}

func (m *mapSubscriber[T, R]) OnComplete() {
	if m.done {
		return
	}
	m.done = true
	m.actual.OnComplete()
}

func (m *mapSubscriber[T, R]) Request(n int64) { m.s.Request(n) }
func (m *mapSubscriber[T, R]) Cancel()         { m.s.Cancel() }

func (m *mapSubscriber[T, R]) RequestFusion(mode stream.FusionMode) stream.FusionMode {
	if m.qs == nil || mode.Has(stream.ThreadBarrier) {
		return stream.None
	}
	m.sourceMode = m.qs.RequestFusion(mode)
	return m.sourceMode
}

func (m *mapSubscriber[T, R]) Poll() (R, bool, error) {
	var zero R
	v, ok, err := m.qs.Poll()
	if err != nil || !ok {
		return zero, false, err
	}
	r, err := m.fn(v)
	if err != nil {
		return zero, false, err
	}
	return r, true, nil
}

func (m *mapSubscriber[T, R]) Size() int {
	if m.qs == nil {
		return 0
	}
	return m.qs.Size()
}

func (m *mapSubscriber[T, R]) IsEmpty() bool { return m.qs == nil || m.qs.IsEmpty() }

func (m *mapSubscriber[T, R]) Clear() {
	if m.qs != nil {
		m.qs.Clear()
	}
}

func (m *mapSubscriber[T, R]) Hooks() *stream.Hooks { return stream.HooksOf(m.actual) }

// Upstream implements stream.Receiver.
func (m *mapSubscriber[T, R]) Upstream() any { return subscriptionOf(m.s) }

// Downstream implements stream.Producer.
func (m *mapSubscriber[T, R]) Downstream() any { return m.actual }
