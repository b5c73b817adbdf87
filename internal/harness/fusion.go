package harness

import (
	"context"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
)

// queueView returns the queue view of the transformation's subscription.
// Behind the conditional consumer it is the consumer's upstream.
func queueView[O any](s stream.Subscription, conditional bool) (stream.QueueSubscription[O], bool) {
	var node any = s
	if conditional {
		r, ok := s.(stream.Receiver)
		if !ok {
			return nil, false
		}
		node = r.Upstream()
	}
	qs, ok := node.(stream.QueueSubscription[O])
	return qs, ok
}

func (x *probeEnv[I, O]) maybeConditional(p stream.Publisher[O], conditional bool) stream.Publisher[O] {
	if conditional {
		return flux.Filter(p, alwaysTrue[O])
	}
	return p
}

// fusedSyncCancel requests SYNC fusion across a thread barrier with no demand,
// exercises the queue view and cancels. A second subscription requests plain
// SYNC and checks the queue only reads empty once cleared. A third checks
// that requesting no fusion is answered with none.
func (x *probeEnv[I, O]) fusedSyncCancel(ctx context.Context, conditional bool) error {
	s := x.scenario
	f := &stepFailure{}

	first := x.create(x.maybeConditional(x.body(FiniteSource(s)), conditional), 0).
		ConsumeSubscription(f.wrap(func(sub stream.Subscription) error {
			qs, ok := queueView[O](sub, conditional)
			if !ok {
				return nil
			}
			want := s.fusionModeThreadBarrier & stream.Sync
			got := qs.RequestFusion(stream.Sync | stream.ThreadBarrier)
			if got != want {
				return newCheckError(ErrCodeFusion, "SYNC|THREAD_BARRIER granted %s, want %s", got, want)
			}
			_ = qs.Size()
			return x.syncQueueState(qs, got)
		})).
		ThenCancel()
	if err := f.result(first.Verify(ctx)); err != nil {
		return err
	}

	second := x.create(x.maybeConditional(x.body(FiniteSource(s)), conditional), 0).
		ConsumeSubscription(f.wrap(func(sub stream.Subscription) error {
			qs, ok := queueView[O](sub, conditional)
			if !ok {
				return nil
			}
			return x.syncQueueState(qs, qs.RequestFusion(stream.Sync))
		})).
		ThenCancel()
	if err := f.result(second.Verify(ctx)); err != nil {
		return err
	}

	third := x.create(x.maybeConditional(x.body(FiniteSource(s)), conditional), 0).
		ConsumeSubscription(f.wrap(func(sub stream.Subscription) error {
			qs, ok := queueView[O](sub, conditional)
			if !ok {
				return nil
			}
			if got := qs.RequestFusion(stream.None); got != stream.None {
				return newCheckError(ErrCodeFusion, "NONE granted %s", got)
			}
			return nil
		})).
		ThenCancel()
	return f.result(third.Verify(ctx))
}

// syncQueueState checks that a queue fused in granted mode over a producing
// source is not empty before Clear, and is empty after it.
func (x *probeEnv[I, O]) syncQueueState(qs stream.QueueSubscription[O], granted stream.FusionMode) error {
	if granted == stream.Sync && x.scenario.producerCount > 0 && qs.IsEmpty() {
		return newCheckError(ErrCodeState, "SYNC queue empty before Clear or drain")
	}
	qs.Clear()
	if !qs.IsEmpty() {
		return newCheckError(ErrCodeState, "queue not empty after Clear")
	}
	return nil
}

// fusedAsyncState fuses ASYNC over a prefilled Unicast without demand, polls
// a few items, clears and checks the queue is empty. A second subscription
// checks the mode granted across a thread barrier.
func (x *probeEnv[I, O]) fusedAsyncState(ctx context.Context, conditional bool) error {
	s := x.scenario
	f := &stepFailure{}

	up := flux.NewUnicast[I]()
	FeedUnicast(s, up)
	first := x.create(x.maybeConditional(x.body(up), conditional), 0).
		ConsumeSubscription(f.wrap(func(sub stream.Subscription) error {
			qs, ok := queueView[O](sub, conditional)
			if !ok {
				return nil
			}
			qs.RequestFusion(stream.Async)

			// A pure proxy over the source reports the source queue size.
			if up.Downstream() == any(qs) && s.prefetch == int(stream.Unspecified) {
				if got, want := qs.Size(), up.Size(); got != want {
					return newCheckError(ErrCodeState, "fused queue size %d, source holds %d", got, want)
				}
			} else {
				_ = qs.Size()
			}

			for range 3 {
				_, _, _ = qs.Poll()
			}
			if t, ok := qs.(stream.Trackable); ok {
				if err := t.Err(); err != nil && err.Error() != x.exception.Error() && !stream.IsProtocolError(err) {
					return newCheckError(ErrCodeState, "tracked error %q, want %q", err, x.exception)
				}
			}
			qs.Clear()
			if n := qs.Size(); n != 0 {
				return newCheckError(ErrCodeState, "queue size %d after Clear", n)
			}
			return nil
		})).
		ThenCancel()
	if err := f.result(first.Verify(ctx)); err != nil {
		return err
	}

	up2 := flux.NewUnicast[I]()
	second := x.create(x.maybeConditional(x.body(up2), conditional), 0).
		ConsumeSubscription(f.wrap(func(sub stream.Subscription) error {
			qs, ok := queueView[O](sub, conditional)
			if !ok {
				return nil
			}
			want := s.fusionModeThreadBarrier & stream.Async
			if got := qs.RequestFusion(stream.Async | stream.ThreadBarrier); got != want {
				return newCheckError(ErrCodeFusion, "ASYNC|THREAD_BARRIER granted %s, want %s", got, want)
			}
			return nil
		})).
		ThenCancel()
	return f.result(second.Verify(ctx))
}

// stepFailure keeps the CheckError raised inside a script step, which the
// verifier only reports as text.
type stepFailure struct {
	err error
}

func (f *stepFailure) wrap(fn func(stream.Subscription) error) func(stream.Subscription) error {
	return func(s stream.Subscription) error {
		err := fn(s)
		if err != nil && f.err == nil {
			f.err = err
		}
		return err
	}
}

func (f *stepFailure) result(verr error) error {
	if f.err != nil {
		return f.err
	}
	return wrapCheckError(ErrCodeProbeFailed, "verification failed", verr)
}
