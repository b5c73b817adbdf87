package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

// Probe is one pipeline shape used to exercise a transformation.
type Probe int

const (
	// Backpressured hides the source and splits the expected demand.
	Backpressured Probe = iota + 1
	// Next hides the source so no fusion happens.
	Next
	// Fused subscribes to the raw, fusable source.
	Fused
	// FusedTryNext requests exactly the item count then requests zero.
	FusedTryNext
	// FusedSync expects SYNC fusion to be granted.
	FusedSync
	// FusedConditionalSync is FusedSync behind a conditional consumer.
	FusedConditionalSync
	// FusedAsync feeds a Unicast after subscription and expects ASYNC fusion.
	FusedAsync
	// FusedConditionalAsync is FusedAsync behind a conditional consumer.
	FusedConditionalAsync
	// TryNext drives a compliant TestPublisher.
	TryNext
	// BothConditional is TryNext behind a conditional consumer.
	BothConditional
	// BothConditionalCancel subscribes a conditional consumer to a silent
	// TestPublisher.
	BothConditionalCancel
	// ConditionalTryNext puts a conditional consumer behind a hidden source.
	ConditionalTryNext
	// FusedBothConditional puts a conditional consumer behind the raw source.
	FusedBothConditional
	// FusedBothConditionalTryNext is FusedBothConditional with exact demand.
	FusedBothConditionalTryNext

	// ErrorSource fails a hidden, overflowing TestPublisher.
	ErrorSource
	// ErrorSourceTryNext fails a raw TestPublisher.
	ErrorSourceTryNext
	// ErrorSourceFused fails a Unicast behind a poll-failing stage.
	ErrorSourceFused
	// ErrorSourceConditional is ErrorSource behind a conditional consumer.
	ErrorSourceConditional
	// ErrorSourceConditionalTryNext is ErrorSourceTryNext behind a
	// conditional consumer.
	ErrorSourceConditionalTryNext
	// ErrorSourceFusedBothConditional is ErrorSourceFused behind a
	// conditional consumer.
	ErrorSourceFusedBothConditional
	// ErrorSourceFusedSync fails the first SYNC poll.
	ErrorSourceFusedSync
	// ErrorSourceFusedAsync fails the first ASYNC poll.
	ErrorSourceFusedAsync

	// FusedSyncCancel exercises the queue view of a SYNC-fused subscription.
	FusedSyncCancel
	// FusedSyncConditionalCancel is FusedSyncCancel behind a conditional
	// consumer.
	FusedSyncConditionalCancel
	// FusedAsyncState exercises the queue view of an ASYNC-fused subscription.
	FusedAsyncState
	// FusedConditionalAsyncState is FusedAsyncState behind a conditional
	// consumer.
	FusedConditionalAsyncState

	// PrePostState checks lifecycle state and introspection around a
	// hand-driven subscription.
	PrePostState
)

var probeNames = map[Probe]string{
	Backpressured:                   "backpressured",
	Next:                            "next",
	Fused:                           "fused",
	FusedTryNext:                    "fusedTryNext",
	FusedSync:                       "fusedSync",
	FusedConditionalSync:            "fusedConditionalSync",
	FusedAsync:                      "fusedAsync",
	FusedConditionalAsync:           "fusedConditionalAsync",
	TryNext:                         "tryNext",
	BothConditional:                 "bothConditional",
	BothConditionalCancel:           "bothConditionalCancel",
	ConditionalTryNext:              "conditionalTryNext",
	FusedBothConditional:            "fusedBothConditional",
	FusedBothConditionalTryNext:     "fusedBothConditionalTryNext",
	ErrorSource:                     "errorSource",
	ErrorSourceTryNext:              "errorSourceTryNext",
	ErrorSourceFused:                "errorSourceFused",
	ErrorSourceConditional:          "errorSourceConditional",
	ErrorSourceConditionalTryNext:   "errorSourceConditionalTryNext",
	ErrorSourceFusedBothConditional: "errorSourceFusedBothConditional",
	ErrorSourceFusedSync:            "errorSourceFusedSync",
	ErrorSourceFusedAsync:           "errorSourceFusedAsync",
	FusedSyncCancel:                 "fusedSyncCancel",
	FusedSyncConditionalCancel:      "fusedSyncConditionalCancel",
	FusedAsyncState:                 "fusedAsyncState",
	FusedConditionalAsyncState:      "fusedConditionalAsyncState",
	PrePostState:                    "prePostState",
}

// String returns the probe name.
func (p Probe) String() string {
	if n, ok := probeNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Probe(%d)", int(p))
}

// ParseProbe returns the probe named name.
func ParseProbe(name string) (Probe, bool) {
	for p, n := range probeNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// Plan returns the probes check runs for s, in execution order.
func Plan[I, O any](check Check, s Scenario[I, O]) []Probe {
	sync := s.fusionMode.Has(stream.Sync)
	async := s.fusionMode.Has(stream.Async)
	prefetched := s.prefetch != int(stream.Unspecified)

	var out []Probe
	add := func(cond bool, ps ...Probe) {
		if cond {
			out = append(out, ps...)
		}
	}

	switch check {
	case AssertPrePostState:
		add(true, PrePostState)

	case SequenceOfNextAndComplete:
		add(true, Backpressured, Next, FusedTryNext, Fused)
		add(sync, FusedSync, FusedConditionalSync)
		add(async, FusedAsync, FusedConditionalAsync, FusedAsyncState, FusedConditionalAsyncState)
		add(true, TryNext, BothConditional, ConditionalTryNext, FusedBothConditional, FusedBothConditionalTryNext)

	case SequenceOfNextWithCallbackError:
		produces := s.producerCount > 0
		add(true, Backpressured, Next, Fused)
		add(produces && sync, FusedSync, FusedConditionalSync)
		add(produces && async, FusedAsync, FusedConditionalAsync, FusedAsyncState, FusedConditionalAsyncState)
		add(true, TryNext, BothConditional, ConditionalTryNext, FusedTryNext, FusedBothConditional, FusedBothConditionalTryNext)

	case ErrorOnSubscribe:
		add(true, ErrorSource, ErrorSourceTryNext, ErrorSourceFused, ErrorSourceConditional,
			ErrorSourceConditionalTryNext, ErrorSourceFusedBothConditional)
		add(prefetched || sync, ErrorSourceFusedSync)
		add(prefetched || async, ErrorSourceFusedAsync)

	case CancelOnSubscribe:
		add(true, Backpressured, Next, Fused)
		add(sync, FusedSyncCancel, FusedSyncConditionalCancel)
		add(true, BothConditionalCancel, FusedBothConditional)
	}
	return out
}

// probeEnv is everything one probe run needs. A fresh env, with fresh drop
// hooks, is built per probe.
type probeEnv[I, O any] struct {
	scenario     Scenario[I, O]
	itemFn       func(i int) I
	dropped      I
	exception    error
	droppedError error
	timeout      time.Duration
	logger       *slog.Logger
	drops        *DropRecorder
}

func (x *probeEnv[I, O]) options() []verify.Option {
	return []verify.Option{
		verify.WithTimeout(x.timeout),
		verify.WithHooks(x.drops.Hooks()),
		verify.WithLogger(x.logger),
	}
}

func (x *probeEnv[I, O]) create(p stream.Publisher[O], demand int64) *verify.Step[O] {
	return verify.Create(p, demand, x.options()...)
}

func (x *probeEnv[I, O]) body(p stream.Publisher[I]) stream.Publisher[O] {
	return x.scenario.body(p)
}

func (x *probeEnv[I, O]) demand() int64 { return x.scenario.receiverDemand }

// exactDemand covers every produced and every expected item.
func (x *probeEnv[I, O]) exactDemand() int64 {
	return int64(max(x.scenario.producerCount, x.scenario.receiverCount))
}

func alwaysTrue[T any](T) bool { return true }

func requestZero(s stream.Subscription) error {
	s.Request(0)
	return nil
}

func cancelSubscription(s stream.Subscription) error {
	s.Cancel()
	return nil
}

// build returns the unterminated script of a pipeline probe.
func (x *probeEnv[I, O]) build(p Probe, check Check) (*verify.Step[O], error) {
	s := x.scenario
	switch p {
	case Backpressured:
		return x.backpressured(check), nil

	case Next:
		return x.create(x.body(flux.Hide(FiniteSource(s))), x.demand()), nil

	case Fused:
		return x.create(x.body(FiniteSource(s)), x.demand()), nil

	case FusedTryNext:
		return x.create(x.body(FiniteSource(s)), x.exactDemand()).
			ConsumeSubscription(requestZero), nil

	case FusedSync:
		return x.create(x.body(FiniteSource(s)), x.demand()).
			ExpectFusion(stream.Sync), nil

	case FusedConditionalSync:
		return x.create(flux.Filter(x.body(FiniteSource(s)), alwaysTrue[O]), x.demand()).
			ExpectFusion(stream.Sync), nil

	case FusedAsync:
		up := flux.NewUnicast[I]()
		return x.create(x.body(up), x.demand()).
			ExpectFusion(stream.Async).
			Then(func() { FeedUnicast(s, up) }), nil

	case FusedConditionalAsync:
		up := flux.NewUnicast[I]()
		return x.create(flux.Filter(x.body(up), alwaysTrue[O]), x.demand()).
			ExpectFusion(stream.Async).
			Then(func() { FeedUnicast(s, up) }), nil

	case TryNext:
		ts := flux.NewTestPublisher[I]()
		return x.create(x.body(ts), x.demand()).
			Then(func() { FeedTestPublisher(s, ts) }), nil

	case BothConditional:
		ts := flux.NewTestPublisher[I]()
		return x.create(flux.Filter(x.body(ts), alwaysTrue[O]), x.demand()).
			Then(func() { FeedTestPublisher(s, ts) }), nil

	case BothConditionalCancel:
		ts := flux.NewTestPublisher[I]()
		return x.create(flux.Filter(x.body(ts), alwaysTrue[O]), x.demand()), nil

	case ConditionalTryNext:
		return x.create(flux.Filter(x.body(flux.Hide(FiniteSource(s))), alwaysTrue[O]), x.exactDemand()).
			ConsumeSubscription(requestZero), nil

	case FusedBothConditional:
		return x.create(flux.Filter(x.body(FiniteSource(s)), alwaysTrue[O]), x.demand()), nil

	case FusedBothConditionalTryNext:
		return x.create(flux.Filter(x.body(FiniteSource(s)), alwaysTrue[O]), x.exactDemand()).
			ConsumeSubscription(requestZero), nil

	case ErrorSource:
		ts := flux.NewTestPublisher[I](flux.CleanupOnTerminate, flux.RequestOverflow)
		return x.create(x.body(flux.Hide[I](ts)), x.demand()).
			Then(x.failTestPublisher(ts, false)), nil

	case ErrorSourceTryNext:
		ts := flux.NewTestPublisher[I](flux.CleanupOnTerminate)
		return x.create(x.body(ts), x.demand()).
			Then(x.failTestPublisher(ts, true)), nil

	case ErrorSourceConditional:
		ts := flux.NewTestPublisher[I](flux.CleanupOnTerminate)
		return x.create(flux.Filter(x.body(flux.Hide[I](ts)), alwaysTrue[O]), x.demand()).
			Then(x.failTestPublisher(ts, false)), nil

	case ErrorSourceConditionalTryNext:
		ts := flux.NewTestPublisher[I](flux.CleanupOnTerminate)
		return x.create(flux.Filter(x.body(ts), alwaysTrue[O]), x.demand()).
			Then(x.failTestPublisher(ts, true)), nil

	case ErrorSourceFused:
		up := flux.NewUnicast[I]()
		return x.create(x.body(flux.ErrorOnPoll[I](up, x.exception)), x.demand()).
			Then(x.failDownstream(up)), nil

	case ErrorSourceFusedBothConditional:
		up := flux.NewUnicast[I]()
		return x.create(flux.Filter(x.body(flux.ErrorOnPoll[I](up, x.exception)), alwaysTrue[O]), x.demand()).
			Then(x.failDownstream(up)), nil

	case ErrorSourceFusedSync:
		src := flux.FromSlice(x.item(0), x.item(1))
		return x.create(x.body(flux.ErrorOnPoll(src, x.exception)), x.demand()).
			ExpectFusion(s.fusionMode & stream.Sync), nil

	case ErrorSourceFusedAsync:
		up := flux.NewUnicast[I]()
		up.OnNext(x.item(0))
		return x.create(x.body(flux.ErrorOnPoll[I](up, x.exception)), x.demand()).
			ExpectFusion(s.fusionMode & stream.Async), nil
	}
	return nil, fmt.Errorf("probe %s has no pipeline", p)
}

// backpressured requests the first half of the expected items (rounded up),
// checks nothing more arrives, requests zero, then requests the rest.
// Without expected items it subscribes with the scenario demand.
func (x *probeEnv[I, O]) backpressured(check Check) *verify.Step[O] {
	s := x.scenario
	p := x.body(flux.Hide(FiniteSource(s)))

	n := s.receiverCount
	steps := check == SequenceOfNextAndComplete || s.verifier == nil
	if n == 0 || !steps {
		return x.create(p, x.demand())
	}

	first := n - n/2
	step := x.create(p, int64(first))
	step = s.applyRange(step, 0, first)
	step = step.ExpectNoNext().ConsumeSubscription(requestZero)
	if rest := n / 2; rest > 0 {
		step = step.ExpectNoNext().ThenRequest(int64(rest))
		step = s.applyRange(step, first, n)
	}
	return step
}

// failTestPublisher errors ts with the scenario exception and re-signals it
// after termination. The overflowing variant only re-sends an item.
func (x *probeEnv[I, O]) failTestPublisher(ts *flux.TestPublisher[I], withError bool) func() {
	return func() {
		ts.Error(x.exception)
		inj := Injection[I]{Next: func(v I) { ts.Next(v) }}
		if withError {
			inj.Complete = ts.Complete
			inj.Error = ts.Error
		}
		InjectAfterTerminal(x.drops, inj, dropFlagsOf(x.scenario), x.dropped)
	}
}

// failDownstream errors the stage subscribed to up and re-signals it after
// termination, through TryOnNext too when the transformation is conditional
// and fusable.
func (x *probeEnv[I, O]) failDownstream(up *flux.Unicast[I]) func() {
	return func() {
		a := up.Actual()
		if a == nil {
			return
		}
		a.OnError(x.exception)
		inj := Injection[I]{
			Next:     func(v I) { flux.ErrorOnPollNext(a, v) },
			Complete: a.OnComplete,
			Error:    a.OnError,
		}
		if flux.ErrorOnPollShouldTryNext(a) {
			inj.TryNext = func(v I) { flux.ErrorOnPollTryNext(a, v) }
		}
		InjectAfterTerminal(x.drops, inj, dropFlagsOf(x.scenario), x.dropped)
	}
}

// terminate appends the termination check expects to a pipeline probe.
func (x *probeEnv[I, O]) terminate(check Check, p Probe, step *verify.Step[O]) *verify.Step[O] {
	s := x.scenario
	switch check {
	case SequenceOfNextAndComplete:
		if p == Backpressured {
			return step.ExpectComplete()
		}
		if s.verifier != nil {
			return s.verifier(step)
		}
		return s.ApplySteps(step).ExpectComplete()

	case SequenceOfNextWithCallbackError:
		if s.verifier != nil {
			return s.verifier(step)
		}
		if p != Backpressured {
			step = s.ApplySteps(step)
		}
		return step.ConsumeErrorWith(MatchCallbackError(x.exception.Error()))

	case ErrorOnSubscribe:
		if s.verifier != nil {
			return s.verifier(step)
		}
		return s.ApplySteps(step).ExpectErrorMessage(x.exception.Error())

	default:
		return step.ConsumeSubscription(cancelSubscription).ThenCancel()
	}
}

// runProbe runs one probe of check and returns nil or a *CheckError.
func runProbe[I, O any](ctx context.Context, check Check, p Probe, x *probeEnv[I, O]) error {
	var err error
	switch p {
	case PrePostState:
		err = assertPrePostState(x)
	case FusedSyncCancel, FusedSyncConditionalCancel:
		err = x.fusedSyncCancel(ctx, p == FusedSyncConditionalCancel)
	case FusedAsyncState, FusedConditionalAsyncState:
		err = x.fusedAsyncState(ctx, p == FusedConditionalAsyncState)
	default:
		step, berr := x.build(p, check)
		if berr != nil {
			return newCheckError(ErrCodeInvalidScenario, "%v", berr)
		}
		if verr := x.terminate(check, p, step).Verify(ctx); verr != nil {
			return wrapCheckError(ErrCodeProbeFailed, "verification failed", verr)
		}
		err = x.drops.Check()
	}
	return err
}
