package verify

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/streamcert/internal/stream"
)

// compareAll lets item comparison see unexported fields.
var compareAll = cmp.Exporter(func(reflect.Type) bool { return true })

// Verify subscribes to the publisher, runs the script and checks the
// protocol. It returns nil or an *AssertionError. The verification is
// bounded by the step timeout or the deadline of ctx, whichever is earlier.
func (s *Step[T]) Verify(ctx context.Context) error {
	if s.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.timeout)
		defer cancel()
	}

	err := s.verify(ctx)
	if err != nil {
		s.opts.logger.Debug("verification failed", "error", err)
	}
	return err
}

func (s *Step[T]) verify(ctx context.Context) error {
	s.result = Result{}
	if len(s.steps) == 0 || !s.steps[len(s.steps)-1].terminal {
		return &AssertionError{
			Type:     "script",
			Expected: "script ending with a terminal step",
			Actual:   "no terminal step",
		}
	}

	var fusion stream.FusionMode
	if s.checkFusion {
		fusion = s.fusionRequested
	}
	sub := newRecordingSubscriber[T](s.demand, fusion, s.opts.hooks)
	x := &execution[T]{sub: sub}

	s.source.Subscribe(sub)

	sig, err := x.next(ctx, "expectSubscription")
	if err != nil {
		return err
	}
	if sig.kind != signalSubscribe {
		return x.fail("expectSubscription", "onSubscribe", sig.String())
	}

	qs, granted := sub.fusion()
	x.result.Fusion = granted
	if s.checkFusion {
		if qs == nil {
			return x.fail("expectFusion", s.fusionExpected.String(), "subscription is not fusable")
		}
		if granted != s.fusionExpected {
			return x.fail("expectFusion", s.fusionExpected.String(), granted.String())
		}
	}

	for _, st := range s.steps {
		if err := st.run(ctx, x); err != nil {
			s.result = x.result
			return err
		}
		if st.terminal {
			break
		}
	}
	s.result = x.result

	if x.result.State != Cancelled {
		if sig, ok := sub.rec.TryDequeue(); ok {
			return x.fail("terminal", "no signal after the terminal signal", sig.String())
		}
	}
	if v := sub.Violations(); len(v) > 0 {
		return x.fail("protocol", "a compliant signal sequence", strings.Join(v, "; "))
	}
	return nil
}

// execution is the state of one Verify call.
type execution[T any] struct {
	sub    *recordingSubscriber[T]
	result Result
}

// next waits for the next recorded signal.
func (x *execution[T]) next(ctx context.Context, step string) (signal[T], error) {
	for {
		if sig, ok := x.sub.rec.TryDequeue(); ok {
			return sig, nil
		}
		select {
		case <-ctx.Done():
			return signal[T]{}, x.fail(step, "a signal", fmt.Sprintf("no signal: %v", ctx.Err()))
		case <-x.sub.rec.Wait():
		}
	}
}

func (x *execution[T]) nextItem(ctx context.Context, step string) (T, error) {
	var zero T
	sig, err := x.next(ctx, step)
	if err != nil {
		return zero, err
	}
	if sig.kind != signalNext {
		return zero, x.fail(step, "onNext", sig.String())
	}
	x.result.Items++
	return sig.value, nil
}

func (x *execution[T]) expectNext(ctx context.Context, want T) error {
	got, err := x.nextItem(ctx, "expectNext")
	if err != nil {
		return err
	}
	if !cmp.Equal(want, got, compareAll) {
		return x.fail("expectNext", fmt.Sprintf("onNext(%v)", want),
			fmt.Sprintf("onNext(%v), diff (-want +got):\n%s", got, cmp.Diff(want, got, compareAll)))
	}
	return nil
}

func (x *execution[T]) fail(step, expected, actual string) error {
	return &AssertionError{
		Type:     step,
		Expected: expected,
		Actual:   actual,
		Trace:    x.sub.rec.Trace(),
	}
}
