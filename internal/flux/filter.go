package flux

import "github.com/roach88/streamcert/internal/stream"

// Filter returns a publisher that only forwards values matching pred.
//
// Its subscriber is conditional: rejected values report false from TryOnNext
// instead of costing a Request(1) round trip. Fusion is forwarded upstream
// except across a thread barrier, since pred then runs on the polling side.
func Filter[T any](source stream.Publisher[T], pred func(T) bool) stream.Publisher[T] {
	return &filterPublisher[T]{source: source, pred: pred}
}

type filterPublisher[T any] struct {
	source stream.Publisher[T]
	pred   func(T) bool
}

func (p *filterPublisher[T]) Subscribe(s stream.Subscriber[T]) {
	f := &filterSubscriber[T]{actual: s, pred: p.pred}
	f.cond, _ = s.(stream.ConditionalSubscriber[T])
	p.source.Subscribe(f)
}

// Upstream implements stream.Receiver.
func (p *filterPublisher[T]) Upstream() any { return p.source }

type filterSubscriber[T any] struct {
	actual stream.Subscriber[T]
	cond   stream.ConditionalSubscriber[T]
	pred   func(T) bool

	s          stream.Subscription
	qs         stream.QueueSubscription[T]
	sourceMode stream.FusionMode
	done       bool
}

func (f *filterSubscriber[T]) OnSubscribe(s stream.Subscription) {
	if !stream.ValidateSubscription(f.s, s) {
		return
	}
	f.s = s
	f.qs, _ = s.(stream.QueueSubscription[T])
	f.actual.OnSubscribe(f)
}

func (f *filterSubscriber[T]) OnNext(v T) {
	if f.done {
		stream.NextDropped(f.actual, v)
		return
	}
	if f.sourceMode == stream.Async {
		// drain signal, the value is meaningless
		f.actual.OnNext(v)
		return
	}
	if f.pred(v) {
		f.actual.OnNext(v)
		return
	}
	f.s.Request(1)
}

func (f *filterSubscriber[T]) TryOnNext(v T) bool {
	if f.done {
		stream.NextDropped(f.actual, v)
		return false
	}
	if !f.pred(v) {
		return false
	}
	if f.cond != nil {
		return f.cond.TryOnNext(v)
	}
	f.actual.OnNext(v)
	return true
}

func (f *filterSubscriber[T]) OnError(err error) {
	if f.done {
		stream.ErrorDropped(f.actual, err)
		return
	}
	f.done = true
	f.actual.OnError(err)
}

func (f *filterSubscriber[T]) OnComplete() {
	if f.done {
		return
	}
	f.done = true
	f.actual.OnComplete()
}

func (f *filterSubscriber[T]) Request(n int64) { f.s.Request(n) }
func (f *filterSubscriber[T]) Cancel()         { f.s.Cancel() }

func (f *filterSubscriber[T]) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if f.qs == nil || m.Has(stream.ThreadBarrier) {
		return stream.None
	}
	f.sourceMode = f.qs.RequestFusion(m)
	return f.sourceMode
}

func (f *filterSubscriber[T]) Poll() (T, bool, error) {
	for {
		v, ok, err := f.qs.Poll()
		if err != nil || !ok {
			return v, false, err
		}
		if f.pred(v) {
			return v, true, nil
		}
		if f.sourceMode == stream.Async {
			f.qs.Request(1)
		}
	}
}

func (f *filterSubscriber[T]) Size() int {
	if f.qs == nil {
		return 0
	}
	return f.qs.Size()
}

func (f *filterSubscriber[T]) IsEmpty() bool { return f.qs == nil || f.qs.IsEmpty() }

func (f *filterSubscriber[T]) Clear() {
	if f.qs != nil {
		f.qs.Clear()
	}
}

func (f *filterSubscriber[T]) Hooks() *stream.Hooks { return stream.HooksOf(f.actual) }

// Upstream implements stream.Receiver.
func (f *filterSubscriber[T]) Upstream() any { return subscriptionOf(f.s) }

// Downstream implements stream.Producer.
func (f *filterSubscriber[T]) Downstream() any { return f.actual }
