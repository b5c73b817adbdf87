package verify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

// failure runs the script and returns its assertion error.
func failure[T any](t *testing.T, s *verify.Step[T]) *verify.AssertionError {
	t.Helper()
	err := s.Verify(t.Context())
	require.Error(t, err)
	ae, ok := verify.AsAssertionError(err)
	require.True(t, ok, "got %T: %v", err, err)
	return ae
}

func TestVerify_ExpectNext(t *testing.T) {
	s := verify.Create(flux.FromSlice(1, 2, 3), stream.Unbounded).
		ExpectNext(1, 2).
		ExpectNext(3).
		ExpectComplete()

	require.NoError(t, s.Verify(t.Context()))
	assert.Equal(t, verify.Completed, s.Result().State)
	assert.Equal(t, 3, s.Result().Items)
	assert.Equal(t, stream.None, s.Result().Fusion)
}

func TestVerify_ExpectNextMismatch(t *testing.T) {
	ae := failure(t, verify.Create(flux.FromSlice(1), stream.Unbounded).
		ExpectNext(2).
		ExpectComplete())

	assert.Equal(t, "expectNext", ae.Type)
	assert.Equal(t, "onNext(2)", ae.Expected)
	assert.Contains(t, ae.Actual, "onNext(1)")
	assert.Equal(t, []string{"onSubscribe", "onNext(1)", "onComplete"}, ae.Trace)
	assert.Contains(t, ae.Error(), "  [2] onNext(1)\n")
}

func TestVerify_ExpectNextComparesStructs(t *testing.T) {
	type point struct{ x, y int }
	err := verify.Create(flux.Just(point{1, 2}), 1).
		ExpectNext(point{1, 2}).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)

	ae := failure(t, verify.Create(flux.Just(point{1, 2}), 1).
		ExpectNext(point{1, 3}).
		ExpectComplete())
	assert.Contains(t, ae.Actual, "diff")
}

func TestVerify_RequiresTerminalStep(t *testing.T) {
	ae := failure(t, verify.Create(flux.FromSlice(1), 1).ExpectNext(1))
	assert.Equal(t, "script", ae.Type)
	assert.Empty(t, ae.Trace, "nothing was subscribed")
}

func TestVerify_ThenRequest(t *testing.T) {
	err := verify.Create(flux.FromSlice(1, 2, 3), 1).
		ExpectNext(1).
		ExpectNoNext().
		ThenRequest(2).
		ExpectNext(2, 3).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)
}

func TestVerify_ExpectNoNextFails(t *testing.T) {
	ae := failure(t, verify.Create(flux.FromSlice(1, 2), stream.Unbounded).
		ExpectNext(1).
		ExpectNoNext().
		ExpectNext(2).
		ExpectComplete())
	assert.Equal(t, "expectNoNext", ae.Type)
}

func TestVerify_AssertNextAndCount(t *testing.T) {
	err := verify.Create(flux.FromSlice("a", "b", "c"), stream.Unbounded).
		AssertNext(func(v string) error {
			if v != "a" {
				return errors.New("want a")
			}
			return nil
		}).
		ExpectNextCount(2).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)

	ae := failure(t, verify.Create(flux.Just("x"), 1).
		AssertNext(func(string) error { return errors.New("never holds") }).
		ExpectComplete())
	assert.Equal(t, "assertNext", ae.Type)
	assert.Equal(t, "never holds", ae.Actual)
}

func TestVerify_DemandViolation(t *testing.T) {
	eager := flux.Create(func(s stream.Subscriber[int]) {
		s.OnSubscribe(stream.EmptySubscription)
		s.OnNext(1)
		s.OnComplete()
	})

	ae := failure(t, verify.Create(eager, 0).
		ExpectNext(1).
		ExpectComplete())
	assert.Equal(t, "protocol", ae.Type)
	assert.Contains(t, ae.Actual, "onNext(1) without demand")
}

func TestVerify_SecondTerminalSignal(t *testing.T) {
	twice := flux.Create(func(s stream.Subscriber[int]) {
		s.OnSubscribe(stream.EmptySubscription)
		s.OnComplete()
		s.OnComplete()
	})

	ae := failure(t, verify.Create(twice, 0).ExpectComplete())
	assert.Equal(t, "protocol", ae.Type)
	assert.Contains(t, ae.Actual, "onComplete after terminal signal")
}

func TestVerify_Timeout(t *testing.T) {
	start := time.Now()
	ae := failure(t, verify.Create[int](flux.NewUnicast[int](), 1, verify.WithTimeout(20*time.Millisecond)).
		ExpectNext(1).
		ExpectComplete())

	assert.Equal(t, "expectNext", ae.Type)
	assert.Contains(t, ae.Actual, "no signal")
	assert.Less(t, time.Since(start), verify.DefaultTimeout)
}

func TestVerify_TimeoutUnderCallerDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), time.Minute)
	defer cancel()

	start := time.Now()
	err := verify.Create[int](flux.NewUnicast[int](), 1, verify.WithTimeout(20*time.Millisecond)).
		ExpectComplete().
		Verify(ctx)

	ae, ok := verify.AsAssertionError(err)
	require.True(t, ok, "got %T: %v", err, err)
	assert.Contains(t, ae.Actual, "no signal")
	assert.Less(t, time.Since(start), verify.DefaultTimeout, "the step timeout wins over a later deadline")
	assert.NoError(t, ctx.Err())
}

func TestVerify_ThenCancel(t *testing.T) {
	s := verify.Create(flux.Generate(10, func(i int) int { return i }), 2).
		ExpectNext(0, 1).
		ThenCancel()

	require.NoError(t, s.Verify(t.Context()))
	assert.Equal(t, verify.Cancelled, s.Result().State)
}

func TestVerify_ThenCancelWithUnconsumedItems(t *testing.T) {
	ae := failure(t, verify.Create(flux.FromSlice(1, 2), 1).ThenCancel())
	assert.Equal(t, "thenCancel", ae.Type)
	assert.Equal(t, "onNext(1)", ae.Actual)
}

func TestVerify_ExpectFusion(t *testing.T) {
	s := verify.Create(flux.FromSlice(1, 2), 0).
		ExpectFusion(stream.Sync).
		ExpectNext(1, 2).
		ExpectComplete()

	require.NoError(t, s.Verify(t.Context()))
	assert.Equal(t, stream.Sync, s.Result().Fusion)
}

func TestVerify_ExpectFusionNotFusable(t *testing.T) {
	ae := failure(t, verify.Create(flux.Hide(flux.FromSlice(1)), 1).
		ExpectFusion(stream.Sync).
		ExpectNext(1).
		ExpectComplete())
	assert.Equal(t, "expectFusion", ae.Type)
	assert.Equal(t, "subscription is not fusable", ae.Actual)
}

func TestVerify_ExpectFusionRefused(t *testing.T) {
	ae := failure(t, verify.Create(flux.FromSlice(1), 1).
		ExpectFusion(stream.Async).
		ExpectNext(1).
		ExpectComplete())
	assert.Equal(t, "expectFusion", ae.Type)
	assert.Equal(t, stream.None.String(), ae.Actual)
}

func TestVerify_ExpectFusionWith(t *testing.T) {
	err := verify.Create(flux.FromSlice(1), 0).
		ExpectFusionWith(stream.Any, stream.Sync).
		ExpectNext(1).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)
}

func TestVerify_ConsumeErrorWith(t *testing.T) {
	boom := errors.New("boom")
	s := verify.Create(flux.Error[int](boom), 0).
		ConsumeErrorWith(func(err error) error {
			if !errors.Is(err, boom) {
				return err
			}
			return nil
		})

	require.NoError(t, s.Verify(t.Context()))
	assert.Equal(t, verify.Errored, s.Result().State)
	assert.Same(t, boom, s.Result().Err)
}

func TestVerify_ConsumeErrorWithFails(t *testing.T) {
	ae := failure(t, verify.Create(flux.Error[int](errors.New("boom")), 0).
		ConsumeErrorWith(func(error) error { return errors.New("wrong error") }))
	assert.Equal(t, "expectError", ae.Type)
	assert.Equal(t, "wrong error", ae.Actual)
}

func TestVerify_ExpectErrorMessage(t *testing.T) {
	err := verify.Create(flux.Error[int](errors.New("boom")), 0).
		ExpectErrorMessage("boom").
		Verify(t.Context())
	require.NoError(t, err)

	ae := failure(t, verify.Create(flux.Error[int](errors.New("boom")), 0).
		ExpectErrorMessage("bang"))
	assert.Equal(t, "expectErrorMessage", ae.Type)
	assert.Equal(t, "bang", ae.Expected)
	assert.Equal(t, "boom", ae.Actual)
	assert.NotEmpty(t, ae.Trace)
}

func TestVerify_ExpectErrorGotComplete(t *testing.T) {
	ae := failure(t, verify.Create(flux.Empty[int](), 0).ExpectError())
	assert.Equal(t, "expectError", ae.Type)
	assert.Equal(t, "onComplete", ae.Actual)
}

func TestVerify_ConsumeSubscription(t *testing.T) {
	err := verify.Create(flux.FromSlice(1), 0).
		ConsumeSubscription(func(s stream.Subscription) error {
			if s == nil {
				return errors.New("no subscription")
			}
			s.Request(1)
			return nil
		}).
		ExpectNext(1).
		ExpectComplete().
		Verify(t.Context())

	// Demand requested through the raw subscription is not tracked.
	ae, ok := verify.AsAssertionError(err)
	require.True(t, ok)
	assert.Equal(t, "protocol", ae.Type)

	ae = failure(t, verify.Create(flux.Empty[int](), 0).
		ConsumeSubscription(func(stream.Subscription) error { return errors.New("bad subscription") }).
		ExpectComplete())
	assert.Equal(t, "consumeSubscription", ae.Type)
	assert.Equal(t, "bad subscription", ae.Actual)
}

func TestVerify_Hooks(t *testing.T) {
	var dropped []any
	hooks := &stream.Hooks{OnNextDropped: func(v any) { dropped = append(dropped, v) }}
	late := flux.Create(func(s stream.Subscriber[int]) {
		s.OnSubscribe(stream.EmptySubscription)
		s.OnComplete()
		stream.NextDropped(s, 5)
	})

	s := verify.Create(late, 0, verify.WithHooks(hooks)).ExpectComplete()
	assert.Same(t, hooks, s.Hooks())
	require.NoError(t, s.Verify(t.Context()))
	assert.Equal(t, []any{5}, dropped)

	assert.Nil(t, verify.Create(late, 0).Hooks())
}

func TestVerify_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	err := verify.Create(flux.Empty[int](), 0, verify.WithLogger(logger)).
		ExpectNext(1).
		ExpectComplete().
		Verify(t.Context())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "verification failed")
}

func TestAssertionError(t *testing.T) {
	ae := &verify.AssertionError{
		Type:     "expectNext",
		Expected: "onNext(1)",
		Actual:   "onComplete",
		Trace:    []string{"onSubscribe", "onComplete"},
	}
	assert.Equal(t, "expectation \"expectNext\" failed\n"+
		"  expected: onNext(1)\n"+
		"  actual: onComplete\n"+
		"signals:\n"+
		"  [1] onSubscribe\n"+
		"  [2] onComplete\n", ae.Error())

	wrapped := errors.Join(errors.New("step"), ae)
	assert.True(t, verify.IsAssertionError(wrapped))
	got, ok := verify.AsAssertionError(wrapped)
	require.True(t, ok)
	assert.Same(t, ae, got)

	assert.False(t, verify.IsAssertionError(errors.New("plain")))
	_, ok = verify.AsAssertionError(nil)
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	for state, want := range map[verify.State]string{
		verify.Pending:   "pending",
		verify.Completed: "completed",
		verify.Errored:   "errored",
		verify.Cancelled: "cancelled",
	} {
		assert.Equal(t, want, state.String())
	}
}
