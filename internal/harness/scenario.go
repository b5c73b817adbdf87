package harness

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

// Body is the transformation under test.
type Body[I, O any] func(stream.Publisher[I]) stream.Publisher[O]

// Verifier replaces the expected termination of a probe. It receives a step
// already subscribed to the probe pipeline and must end the script with a
// terminal expectation.
type Verifier[O any] func(step *verify.Step[O]) *verify.Step[O]

// Scenario describes one configuration of a transformation.
//
// A Scenario is a value: every With method returns a modified copy and
// leaves the receiver untouched, so a shared default can be specialised
// freely. Slices are copied on write.
//
// Misconfiguration is recorded rather than panicking; Err reports the first
// problem and the driver fails the scenario before running any probe.
type Scenario[I, O any] struct {
	body Body[I, O]

	producerCount int
	producerFn    func(i int) I
	producerAsync bool

	receiverCount   int
	receiverFn      func(i int) O
	receiverValues  []O
	receiverAsserts []func(O) error

	prefetch                int
	fusionMode              stream.FusionMode
	fusionModeThreadBarrier stream.FusionMode
	receiverDemand          int64

	dropNext      bool
	dropError     bool
	postTerminate bool

	verifier    Verifier[O]
	description string

	err error
}

// NewScenario creates a scenario for body with default options: three
// produced items (a producer function must still be supplied), no expected
// items, unspecified prefetch, no fusion, unbounded demand and every drop and
// post-terminate assertion enabled.
func NewScenario[I, O any](body Body[I, O]) Scenario[I, O] {
	s := Scenario[I, O]{
		body:           body,
		producerCount:  3,
		prefetch:       int(stream.Unspecified),
		receiverDemand: stream.Unbounded,
		dropNext:       true,
		dropError:      true,
		postTerminate:  true,
	}
	if body == nil {
		s.err = errMissingBody
	}
	return s
}

func (s Scenario[I, O]) fail(format string, args ...any) Scenario[I, O] {
	if s.err == nil {
		s.err = fmt.Errorf(format, args...)
	}
	return s
}

// Err returns the first misconfiguration recorded on the scenario, or a
// consistency problem between its fields.
func (s Scenario[I, O]) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.body == nil {
		return errMissingBody
	}
	if s.producerCount > 0 && s.producerFn == nil {
		return fmt.Errorf("producer count %d requires a producer function", s.producerCount)
	}
	return nil
}

// Duplicate returns an independent copy of s.
func (s Scenario[I, O]) Duplicate() Scenario[I, O] {
	s.receiverValues = slices.Clone(s.receiverValues)
	s.receiverAsserts = slices.Clone(s.receiverAsserts)
	return s
}

// ApplyAllOptions copies every option of src onto s, keeping the body of s.
func (s Scenario[I, O]) ApplyAllOptions(src Scenario[I, O]) Scenario[I, O] {
	body, err := s.body, s.err
	s = src.Duplicate()
	s.body = body
	switch {
	case err != nil:
		s.err = err
	case errors.Is(s.err, errMissingBody):
		s.err = nil
	}
	return s
}

var errMissingBody = errors.New("scenario body is required")

// WithBody replaces the transformation.
func (s Scenario[I, O]) WithBody(body Body[I, O]) Scenario[I, O] {
	if errors.Is(s.err, errMissingBody) {
		s.err = nil
	}
	s.body = body
	if body == nil {
		return s.fail("%w", errMissingBody)
	}
	return s
}

// WithProducer configures a finite source of n items produced by fn.
func (s Scenario[I, O]) WithProducer(n int, fn func(i int) I) Scenario[I, O] {
	if n < 0 {
		return s.fail("producer count must be non-negative, got %d", n)
	}
	if n > 0 && fn == nil {
		return s.fail("producer count %d requires a producer function", n)
	}
	s.producerCount, s.producerFn, s.producerAsync = n, fn, false
	return s
}

// ProducerEmpty configures an empty source.
func (s Scenario[I, O]) ProducerEmpty() Scenario[I, O] {
	s.producerCount, s.producerFn, s.producerAsync = 0, nil, false
	return s
}

// WithProducerAsync configures an asynchronous source preloaded with n items
// that never terminates. n must be positive; ProducerNever declares a silent
// source.
func (s Scenario[I, O]) WithProducerAsync(n int, fn func(i int) I) Scenario[I, O] {
	if n == 0 {
		return s.fail("async producer requires at least one item, use ProducerNever for a silent source")
	}
	s = s.WithProducer(n, fn)
	s.producerAsync = true
	return s
}

// ProducerNever configures an asynchronous source that never emits nor
// terminates.
func (s Scenario[I, O]) ProducerNever() Scenario[I, O] {
	s = s.ProducerEmpty()
	s.producerAsync = true
	return s
}

// ReceiverEmpty expects no item.
func (s Scenario[I, O]) ReceiverEmpty() Scenario[I, O] {
	s.receiverCount = 0
	s.receiverFn, s.receiverValues, s.receiverAsserts = nil, nil, nil
	return s
}

// Receive expects n items. When fn is nil only the count is checked.
func (s Scenario[I, O]) Receive(n int, fn func(i int) O) Scenario[I, O] {
	if n < 0 {
		return s.fail("receiver count must be non-negative, got %d", n)
	}
	s = s.ReceiverEmpty()
	s.receiverCount, s.receiverFn = n, fn
	return s
}

// ReceiveValues expects exactly vs, in order.
func (s Scenario[I, O]) ReceiveValues(vs ...O) Scenario[I, O] {
	s = s.ReceiverEmpty()
	s.receiverCount, s.receiverValues = len(vs), slices.Clone(vs)
	return s
}

// ReceiveAssert expects one item per assertion and runs it on that item.
func (s Scenario[I, O]) ReceiveAssert(asserts ...func(O) error) Scenario[I, O] {
	s = s.ReceiverEmpty()
	s.receiverCount, s.receiverAsserts = len(asserts), slices.Clone(asserts)
	return s
}

// WithPrefetch sets the upstream demand ceiling the operator declares.
func (s Scenario[I, O]) WithPrefetch(n int) Scenario[I, O] {
	if n < 0 && n != int(stream.Unspecified) {
		return s.fail("prefetch must be positive or unspecified, got %d", n)
	}
	s.prefetch = n
	return s
}

// WithFusionMode sets the fusion modes the operator must offer.
func (s Scenario[I, O]) WithFusionMode(m stream.FusionMode) Scenario[I, O] {
	s.fusionMode = m
	return s
}

// WithFusionModeThreadBarrier sets the modes the operator still grants when
// a thread barrier is requested.
func (s Scenario[I, O]) WithFusionModeThreadBarrier(m stream.FusionMode) Scenario[I, O] {
	s.fusionModeThreadBarrier = m
	return s
}

// WithReceiverDemand sets the initial demand of plain probes.
func (s Scenario[I, O]) WithReceiverDemand(n int64) Scenario[I, O] {
	if n < 0 {
		return s.fail("receiver demand must be non-negative, got %d", n)
	}
	s.receiverDemand = n
	return s
}

// ShouldHitDropNextHookAfterTerminate toggles the next-dropped assertion.
func (s Scenario[I, O]) ShouldHitDropNextHookAfterTerminate(v bool) Scenario[I, O] {
	s.dropNext = v
	return s
}

// ShouldHitDropErrorHookAfterTerminate toggles the error-dropped assertion.
func (s Scenario[I, O]) ShouldHitDropErrorHookAfterTerminate(v bool) Scenario[I, O] {
	s.dropError = v
	return s
}

// ShouldAssertPostTerminateState toggles the post-terminate state checks.
func (s Scenario[I, O]) ShouldAssertPostTerminateState(v bool) Scenario[I, O] {
	s.postTerminate = v
	return s
}

// WithVerifier replaces the expected termination of the probes.
func (s Scenario[I, O]) WithVerifier(v Verifier[O]) Scenario[I, O] {
	s.verifier = v
	return s
}

// WithDescription names the scenario in reports. The text is stored in
// Unicode normalization form C.
func (s Scenario[I, O]) WithDescription(d string) Scenario[I, O] {
	s.description = norm.NFC.String(d)
	return s
}

// Accessors.

func (s Scenario[I, O]) Body() Body[I, O]                           { return s.body }
func (s Scenario[I, O]) ProducerCount() int                         { return s.producerCount }
func (s Scenario[I, O]) Producer() func(i int) I                    { return s.producerFn }
func (s Scenario[I, O]) ProducerAsync() bool                        { return s.producerAsync }
func (s Scenario[I, O]) ReceiverCount() int                         { return s.receiverCount }
func (s Scenario[I, O]) Prefetch() int                              { return s.prefetch }
func (s Scenario[I, O]) FusionMode() stream.FusionMode              { return s.fusionMode }
func (s Scenario[I, O]) FusionModeThreadBarrier() stream.FusionMode { return s.fusionModeThreadBarrier }
func (s Scenario[I, O]) ReceiverDemand() int64                      { return s.receiverDemand }
func (s Scenario[I, O]) DropNextExpected() bool                     { return s.dropNext }
func (s Scenario[I, O]) DropErrorExpected() bool                    { return s.dropError }
func (s Scenario[I, O]) PostTerminateStateExpected() bool           { return s.postTerminate }
func (s Scenario[I, O]) CustomVerifier() Verifier[O]                { return s.verifier }
func (s Scenario[I, O]) Description() string                        { return s.description }

// ApplySteps appends the expectation of every expected item to step.
func (s Scenario[I, O]) ApplySteps(step *verify.Step[O]) *verify.Step[O] {
	return s.applyRange(step, 0, s.receiverCount)
}

// ApplyStepsN appends the expectation of the first n expected items.
func (s Scenario[I, O]) ApplyStepsN(n int, step *verify.Step[O]) *verify.Step[O] {
	return s.applyRange(step, 0, min(n, s.receiverCount))
}

func (s Scenario[I, O]) applyRange(step *verify.Step[O], from, to int) *verify.Step[O] {
	switch {
	case from >= to:
		return step
	case len(s.receiverAsserts) > 0:
		for _, a := range s.receiverAsserts[from:to] {
			step = step.AssertNext(a)
		}
	case len(s.receiverValues) > 0:
		step = step.ExpectNext(s.receiverValues[from:to]...)
	case s.receiverFn != nil:
		for i := from; i < to; i++ {
			step = step.ExpectNext(s.receiverFn(i))
		}
	default:
		step = step.ExpectNextCount(int64(to - from))
	}
	return step
}

// DefaultLimit is the replenishment threshold expected from an operator with
// the given prefetch: prefetch minus a quarter. Unspecified prefetch uses the
// small buffer size, an unbounded one stays unbounded.
func DefaultLimit(prefetch int) int {
	switch prefetch {
	case int(stream.Unspecified):
		return smallBufferSize - smallBufferSize>>2
	case maxInt32:
		return maxInt32
	default:
		return prefetch - prefetch>>2
	}
}

const (
	smallBufferSize = 256
	maxInt32        = 1<<31 - 1
)
