package harness

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

// faults selects the contract violations of a faulty passthrough operator.
// The zero value is a compliant passthrough.
type faults struct {
	forwardResubscribe bool // forwards every OnSubscribe downstream
	grantAcrossBarrier bool // fuses even when a thread barrier is requested
	emptyQueue         bool // IsEmpty always reports true
	swallowLate        bool // ignores late signals without the drop hooks
	forwardLate        bool // delivers late signals downstream
	overRequest        bool // requests one more item than asked
	completeOnCancel   bool // completes downstream when cancelled
}

func faultyBody(f faults) Body[string, string] {
	return func(p stream.Publisher[string]) stream.Publisher[string] {
		return flux.PublisherFunc[string](func(s stream.Subscriber[string]) {
			p.Subscribe(&faulty{faults: f, actual: s})
		})
	}
}

type faulty struct {
	faults
	actual stream.Subscriber[string]
	s      stream.Subscription
	qs     stream.QueueSubscription[string]
	done   bool
}

func (f *faulty) OnSubscribe(s stream.Subscription) {
	if !f.forwardResubscribe && !stream.ValidateSubscription(f.s, s) {
		return
	}
	f.s = s
	f.qs, _ = s.(stream.QueueSubscription[string])
	f.actual.OnSubscribe(f)
}

func (f *faulty) OnNext(v string) {
	if f.done && !f.forwardLate {
		if !f.swallowLate {
			stream.NextDropped(f.actual, v)
		}
		return
	}
	f.actual.OnNext(v)
}

func (f *faulty) OnError(err error) {
	if f.done && !f.forwardLate {
		if !f.swallowLate {
			stream.ErrorDropped(f.actual, err)
		}
		return
	}
	f.done = true
	f.actual.OnError(err)
}

func (f *faulty) OnComplete() {
	if f.done && !f.forwardLate {
		return
	}
	f.done = true
	f.actual.OnComplete()
}

func (f *faulty) Request(n int64) {
	if f.overRequest {
		n = stream.AddCap(n, 1)
	}
	f.s.Request(n)
}

func (f *faulty) Cancel() {
	f.s.Cancel()
	if f.completeOnCancel {
		f.actual.OnComplete()
	}
}

func (f *faulty) RequestFusion(m stream.FusionMode) stream.FusionMode {
	if f.qs == nil || (m.Has(stream.ThreadBarrier) && !f.grantAcrossBarrier) {
		return stream.None
	}
	return f.qs.RequestFusion(m)
}

func (f *faulty) Poll() (string, bool, error) { return f.qs.Poll() }
func (f *faulty) Size() int                   { return f.qs.Size() }
func (f *faulty) IsEmpty() bool               { return f.emptyQueue || f.qs.IsEmpty() }
func (f *faulty) Clear()                      { f.qs.Clear() }
func (f *faulty) Hooks() *stream.Hooks        { return stream.HooksOf(f.actual) }

// runCheck runs one check over a single success scenario.
func runCheck(t *testing.T, check Check, scenario func(b Builder[string, string]) Scenario[string, string]) *Report {
	t.Helper()
	cfg := mapConfig()
	cfg.Options.Checks = []string{check.String()}
	cfg.OperatorSuccess = func(b Builder[string, string]) []Scenario[string, string] {
		return []Scenario[string, string]{scenario(b)}
	}
	s, err := NewSuite(cfg)
	require.NoError(t, err)
	return s.RunAll(t.Context())
}

func failureAt(t *testing.T, r *Report, step fmt.Stringer) Failure {
	t.Helper()
	for _, f := range r.Failures {
		if f.Probe == step.String() {
			return f
		}
	}
	require.Failf(t, "check passed", "%s did not fail:\n%s", step, r.String())
	return Failure{}
}

func assertVerifyFailure(t *testing.T, f Failure) {
	t.Helper()
	_, ok := verify.AsAssertionError(f.Err())
	assert.True(t, ok, f.Error)
}

func TestSuite_ForwardedResubscribe(t *testing.T) {
	report := runCheck(t, AssertPrePostState, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{forwardResubscribe: true})).WithDescription("unguarded")
	})

	f := failureAt(t, report, PrePostState)
	assert.True(t, IsStateError(f.Err()), f.Error)
	assert.Contains(t, f.Error, "second OnSubscribe forwarded downstream")
}

func TestSuite_GuardedResubscribePasses(t *testing.T) {
	report := runCheck(t, AssertPrePostState, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{})).WithDescription("guarded")
	})
	assert.True(t, report.Pass, report.String())
}

func TestSuite_FusionAcrossThreadBarrier(t *testing.T) {
	report := runCheck(t, CancelOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{grantAcrossBarrier: true})).
			WithFusionMode(stream.Sync).
			WithDescription("barrier blind")
	})

	f := failureAt(t, report, FusedSyncCancel)
	assert.True(t, IsFusionError(f.Err()), f.Error)
	assert.Contains(t, f.Error, "SYNC|THREAD_BARRIER granted SYNC, want NONE")
}

func TestSuite_SyncQueueEmptyBeforeClear(t *testing.T) {
	report := runCheck(t, CancelOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{emptyQueue: true})).
			WithFusionMode(stream.Sync).
			WithDescription("always empty")
	})

	for _, step := range []fmt.Stringer{FusedSyncCancel, FusedSyncConditionalCancel} {
		f := failureAt(t, report, step)
		assert.True(t, IsStateError(f.Err()), f.Error)
		assert.Contains(t, f.Error, "SYNC queue empty before Clear or drain")
	}
}

func TestSuite_DropHooksFiredAgainstScenario(t *testing.T) {
	report := runCheck(t, ErrorOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(mapBody(same)).
			ShouldHitDropNextHookAfterTerminate(false).
			ShouldHitDropErrorHookAfterTerminate(false).
			WithDescription("hooks not expected")
	})

	f := failureAt(t, report, ErrorSourceTryNext)
	assert.True(t, IsDropHookError(f.Err()), f.Error)
	assert.Contains(t, f.Error, "error dropped hook fired 1 times, want 0")
	assert.Contains(t, f.Error, "next dropped hook fired 1 times, want 0")
}

func TestSuite_LateSignalsSwallowed(t *testing.T) {
	report := runCheck(t, ErrorOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{swallowLate: true})).WithDescription("swallows")
	})

	f := failureAt(t, report, ErrorSourceTryNext)
	assert.True(t, IsDropHookError(f.Err()), f.Error)
	assert.Contains(t, f.Error, "next dropped hook fired 0 times, want 1")
	assert.Contains(t, f.Error, "error dropped hook fired 0 times, want 1")
}

func TestSuite_LateSignalsDelivered(t *testing.T) {
	report := runCheck(t, ErrorOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{forwardLate: true})).WithDescription("forwards")
	})

	f := failureAt(t, report, ErrorSourceTryNext)
	assertVerifyFailure(t, f)
	assert.Contains(t, f.Error, "after terminal signal")
}

func TestSuite_EmissionBeyondDemand(t *testing.T) {
	report := runCheck(t, SequenceOfNextAndComplete, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{overRequest: true})).WithDescription("greedy")
	})

	f := failureAt(t, report, Backpressured)
	assertVerifyFailure(t, f)
	assert.Contains(t, f.Error, "onNext(test2)")
}

func TestSuite_SignalAfterCancel(t *testing.T) {
	report := runCheck(t, CancelOnSubscribe, func(b Builder[string, string]) Scenario[string, string] {
		return b.Scenario(faultyBody(faults{completeOnCancel: true})).WithDescription("completes on cancel")
	})

	f := failureAt(t, report, Next)
	assertVerifyFailure(t, f)
	assert.Contains(t, f.Error, "onComplete after cancel")
}
