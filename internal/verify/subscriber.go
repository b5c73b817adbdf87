package verify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// recordingSubscriber records signals for the script and flags protocol
// violations as they happen.
type recordingSubscriber[T any] struct {
	rec   *recorder[T]
	hooks *stream.Hooks

	initialDemand   int64
	fusionRequested stream.FusionMode

	mu          sync.Mutex
	s           stream.Subscription
	qs          stream.QueueSubscription[T]
	granted     stream.FusionMode
	terminated  bool
	violations  []string
	outstanding atomic.Int64
	cancelled   atomic.Bool
}

func newRecordingSubscriber[T any](demand int64, fusion stream.FusionMode, hooks *stream.Hooks) *recordingSubscriber[T] {
	return &recordingSubscriber[T]{
		rec:             newRecorder[T](),
		hooks:           hooks,
		initialDemand:   demand,
		fusionRequested: fusion,
	}
}

// Hooks implements stream.HooksCarrier.
func (r *recordingSubscriber[T]) Hooks() *stream.Hooks { return r.hooks }

func (r *recordingSubscriber[T]) violate(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
}

func (r *recordingSubscriber[T]) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.violations...)
}

func (r *recordingSubscriber[T]) subscription() stream.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

func (r *recordingSubscriber[T]) OnSubscribe(s stream.Subscription) {
	r.mu.Lock()
	if r.s != nil {
		r.mu.Unlock()
		s.Cancel()
		r.violate("onSubscribe called twice")
		return
	}
	r.s = s
	r.mu.Unlock()
	r.rec.Enqueue(signal[T]{kind: signalSubscribe})

	if r.fusionRequested != stream.None {
		if qs, ok := s.(stream.QueueSubscription[T]); ok {
			mode := qs.RequestFusion(r.fusionRequested)
			r.mu.Lock()
			r.qs, r.granted = qs, mode
			r.mu.Unlock()
			if mode == stream.Sync {
				r.drainSync(qs)
				return
			}
		}
	}
	if r.initialDemand > 0 {
		r.request(r.initialDemand)
	}
}

func (r *recordingSubscriber[T]) drainSync(qs stream.QueueSubscription[T]) {
	for {
		if r.cancelled.Load() {
			return
		}
		v, ok, err := qs.Poll()
		if err != nil {
			r.terminate(signal[T]{kind: signalError, err: err})
			return
		}
		if !ok {
			r.terminate(signal[T]{kind: signalComplete})
			return
		}
		r.rec.Enqueue(signal[T]{kind: signalNext, value: v})
	}
}

func (r *recordingSubscriber[T]) drainAsync(qs stream.QueueSubscription[T]) {
	for {
		v, ok, err := qs.Poll()
		if err != nil {
			r.cancel()
			r.terminate(signal[T]{kind: signalError, err: err})
			return
		}
		if !ok {
			return
		}
		r.rec.Enqueue(signal[T]{kind: signalNext, value: v})
	}
}

func (r *recordingSubscriber[T]) fusion() (stream.QueueSubscription[T], stream.FusionMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qs, r.granted
}

func (r *recordingSubscriber[T]) OnNext(v T) {
	if r.cancelled.Load() {
		r.violate("onNext(%v) after cancel", v)
		return
	}
	if r.isTerminated() {
		r.violate("onNext(%v) after terminal signal", v)
		return
	}

	qs, mode := r.fusion()
	switch mode {
	case stream.Async:
		r.drainAsync(qs)
		return
	case stream.Sync:
		r.violate("onNext(%v) in SYNC fusion mode", v)
		return
	}

	for {
		n := r.outstanding.Load()
		if n == 0 {
			r.violate("onNext(%v) without demand", v)
			break
		}
		if n == stream.Unbounded || r.outstanding.CompareAndSwap(n, n-1) {
			break
		}
	}
	r.rec.Enqueue(signal[T]{kind: signalNext, value: v})
}

func (r *recordingSubscriber[T]) OnError(err error) {
	if r.cancelled.Load() {
		r.violate("onError(%v) after cancel", err)
		return
	}
	r.terminate(signal[T]{kind: signalError, err: err})
}

func (r *recordingSubscriber[T]) OnComplete() {
	if r.cancelled.Load() {
		r.violate("onComplete after cancel")
		return
	}
	if qs, mode := r.fusion(); mode == stream.Async && !r.isTerminated() {
		r.drainAsync(qs)
		if r.isTerminated() {
			return
		}
	}
	r.terminate(signal[T]{kind: signalComplete})
}

func (r *recordingSubscriber[T]) terminate(sig signal[T]) {
	r.mu.Lock()
	already := r.terminated
	r.terminated = true
	r.mu.Unlock()
	if already {
		r.violate("%s after terminal signal", sig)
		return
	}
	r.rec.Enqueue(sig)
}

func (r *recordingSubscriber[T]) isTerminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// request adds n to the tracked demand and forwards it upstream.
func (r *recordingSubscriber[T]) request(n int64) {
	s := r.subscription()
	if s == nil || n <= 0 {
		return
	}
	for {
		cur := r.outstanding.Load()
		if r.outstanding.CompareAndSwap(cur, stream.AddCap(cur, n)) {
			break
		}
	}
	s.Request(n)
}

// cancel marks the subscriber cancelled before cancelling upstream, so any
// signal racing the cancellation is reported.
func (r *recordingSubscriber[T]) cancel() {
	r.cancelled.Store(true)
	if s := r.subscription(); s != nil {
		s.Cancel()
	}
}
