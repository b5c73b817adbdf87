package flux

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/streamcert/internal/stream"
)

// Subscribe consumes p with unbounded demand, calling the given callbacks.
// Nil callbacks are skipped. The returned subscription cancels the sequence.
func Subscribe[T any](p stream.Publisher[T], onNext func(T), onError func(error), onComplete func()) stream.Subscription {
	l := &lambdaSubscriber[T]{onNext: onNext, onError: onError, onComplete: onComplete}
	p.Subscribe(l)
	return l
}

type lambdaSubscriber[T any] struct {
	onNext     func(T)
	onError    func(error)
	onComplete func()

	mu   sync.Mutex
	s    stream.Subscription
	done bool
}

func (l *lambdaSubscriber[T]) OnSubscribe(s stream.Subscription) {
	l.mu.Lock()
	if !stream.ValidateSubscription(l.s, s) {
		l.mu.Unlock()
		return
	}
	l.s = s
	l.mu.Unlock()
	s.Request(stream.Unbounded)
}

func (l *lambdaSubscriber[T]) OnNext(v T) {
	if l.done {
		stream.NextDropped(nil, v)
		return
	}
	if l.onNext != nil {
		l.onNext(v)
	}
}

func (l *lambdaSubscriber[T]) OnError(err error) {
	if l.done {
		stream.ErrorDropped(nil, err)
		return
	}
	l.done = true
	if l.onError != nil {
		l.onError(err)
	}
}

func (l *lambdaSubscriber[T]) OnComplete() {
	if l.done {
		return
	}
	l.done = true
	if l.onComplete != nil {
		l.onComplete()
	}
}

func (l *lambdaSubscriber[T]) Request(int64) {}

func (l *lambdaSubscriber[T]) Cancel() {
	l.mu.Lock()
	s := l.s
	l.s = stream.CancelledSubscription
	l.mu.Unlock()
	if s != nil && s != stream.CancelledSubscription {
		s.Cancel()
	}
}

// ErrNoValue is returned by BlockFirst when p completes without a value.
var ErrNoValue = errors.New("flux: sequence completed without a value")

// BlockFirst subscribes to p, requests one value and returns it, cancelling
// the rest of the sequence. It returns ErrNoValue if p completes empty, the
// error p failed with, or ctx.Err() if ctx is done first.
func BlockFirst[T any](ctx context.Context, p stream.Publisher[T]) (T, error) {
	b := &firstSubscriber[T]{result: make(chan firstResult[T], 1)}
	p.Subscribe(b)

	select {
	case r := <-b.result:
		return r.value, r.err
	case <-ctx.Done():
		b.cancel()
		var zero T
		return zero, ctx.Err()
	}
}

type firstResult[T any] struct {
	value T
	err   error
}

type firstSubscriber[T any] struct {
	result chan firstResult[T]
	once   sync.Once

	mu sync.Mutex
	s  stream.Subscription
}

func (b *firstSubscriber[T]) OnSubscribe(s stream.Subscription) {
	b.mu.Lock()
	if !stream.ValidateSubscription(b.s, s) {
		b.mu.Unlock()
		return
	}
	b.s = s
	b.mu.Unlock()
	s.Request(1)
}

func (b *firstSubscriber[T]) OnNext(v T) {
	b.deliver(firstResult[T]{value: v})
	b.cancel()
}

func (b *firstSubscriber[T]) OnError(err error) {
	b.deliver(firstResult[T]{err: err})
}

func (b *firstSubscriber[T]) OnComplete() {
	b.deliver(firstResult[T]{err: ErrNoValue})
}

func (b *firstSubscriber[T]) deliver(r firstResult[T]) {
	b.once.Do(func() { b.result <- r })
}

func (b *firstSubscriber[T]) cancel() {
	b.mu.Lock()
	s := b.s
	b.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}
