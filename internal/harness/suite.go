package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/streamcert/internal/testutil"
	"github.com/roach88/streamcert/internal/verify"
)

// Check is a family of probes run against every scenario of a list.
type Check int

const (
	// AssertPrePostState checks lifecycle state around a hand-driven
	// subscription. Runs the touch-and-assert-state scenarios.
	AssertPrePostState Check = iota + 1

	// SequenceOfNextAndComplete expects every item then completion. Runs the
	// success scenarios.
	SequenceOfNextAndComplete

	// SequenceOfNextWithCallbackError expects a failing user callback to
	// surface as an error. Runs the error scenarios.
	SequenceOfNextWithCallbackError

	// ErrorOnSubscribe fails the upstream and expects the error to pass
	// through, then checks late signals reach the drop hooks. Runs the
	// upstream-failure scenarios.
	ErrorOnSubscribe

	// CancelOnSubscribe cancels right after subscription and expects
	// silence. Runs the success scenarios with no demand.
	CancelOnSubscribe
)

var checkNames = map[Check]string{
	AssertPrePostState:              "assertPrePostState",
	SequenceOfNextAndComplete:       "sequenceOfNextAndComplete",
	SequenceOfNextWithCallbackError: "sequenceOfNextWithCallbackError",
	ErrorOnSubscribe:                "errorOnSubscribe",
	CancelOnSubscribe:               "cancelOnSubscribe",
}

// String returns the check name.
func (c Check) String() string {
	if n, ok := checkNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Check(%d)", int(c))
}

// ParseCheck returns the check named name.
func ParseCheck(name string) (Check, bool) {
	for c, n := range checkNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// AllChecks returns every check in run order.
func AllChecks() []Check {
	return []Check{
		AssertPrePostState,
		SequenceOfNextAndComplete,
		SequenceOfNextWithCallbackError,
		ErrorOnSubscribe,
		CancelOnSubscribe,
	}
}

// Builder creates scenarios that start from the suite defaults.
type Builder[I, O any] struct {
	defaults Scenario[I, O]
}

// Scenario returns the default scenario for body.
func (b Builder[I, O]) Scenario(body Body[I, O]) Scenario[I, O] {
	return b.defaults.Duplicate().WithBody(body)
}

// Defaults returns the default scenario, without a body.
func (b Builder[I, O]) Defaults() Scenario[I, O] { return b.defaults.Duplicate() }

// ScenarioList builds the scenarios of one list.
type ScenarioList[I, O any] func(b Builder[I, O]) []Scenario[I, O]

// RunIDGenerator names suite runs.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run IDs.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string { return uuid.Must(uuid.NewV7()).String() }

// Sequencer numbers failures in the order they are recorded.
type Sequencer interface {
	Next() int64
}

// Config describes the transformation under test.
type Config[I, O any] struct {
	// Item is the i-th item of the default producer. Defaults to "test",
	// "test1", "test2" when I is a string type.
	Item func(i int) I

	// Expect is the i-th expected item of the default receiver. When nil and
	// items convert to O, the produced items are expected unchanged;
	// otherwise only the count is checked.
	Expect func(i int) O

	// Defaults adjusts the default scenario every list starts from.
	Defaults func(Scenario[I, O]) Scenario[I, O]

	// OperatorSuccess lists scenarios that complete normally.
	OperatorSuccess ScenarioList[I, O]

	// OperatorError lists scenarios whose user callback fails with Exception.
	OperatorError ScenarioList[I, O]

	// ErrorFromUpstreamFailure lists scenarios used when the upstream fails.
	// Defaults to OperatorSuccess.
	ErrorFromUpstreamFailure ScenarioList[I, O]

	// TouchAndAssertState lists scenarios used for lifecycle checks.
	// Defaults to OperatorSuccess.
	TouchAndAssertState ScenarioList[I, O]

	// Dropped is the item injected after termination. Defaults to "dropped"
	// when I is a string type, the zero value otherwise.
	Dropped func() I

	// Exception is the error of failing sources and callbacks. Defaults to
	// an error with message "test".
	Exception error

	// DroppedError is the error injected after termination. Defaults to an
	// error with message "dropped".
	DroppedError error

	Options Options
	Logger  *slog.Logger
	IDs     RunIDGenerator
	Seq     Sequencer
}

// Suite runs the conformance checks of one transformation.
type Suite[I, O any] struct {
	cfg          Config[I, O]
	item         func(i int) I
	dropped      I
	exception    error
	droppedError error
	logger       *slog.Logger
	ids          RunIDGenerator
	seq          Sequencer
}

// NewSuite validates cfg and fills in its defaults.
func NewSuite[I, O any](cfg Config[I, O]) (*Suite[I, O], error) {
	if err := validateOptions(&cfg.Options); err != nil {
		return nil, err
	}
	s := &Suite[I, O]{
		cfg:          cfg,
		item:         cfg.Item,
		exception:    cfg.Exception,
		droppedError: cfg.DroppedError,
		logger:       cfg.Logger,
		ids:          cfg.IDs,
		seq:          cfg.Seq,
	}
	if s.item == nil {
		if _, ok := stringAs[I]("test"); !ok {
			return nil, newCheckError(ErrCodeInvalidScenario, "Item is required for %T items", *new(I))
		}
		s.item = defaultItem[I]
	}
	if cfg.Dropped != nil {
		s.dropped = cfg.Dropped()
	} else if v, ok := stringAs[I]("dropped"); ok {
		s.dropped = v
	}
	if s.exception == nil {
		s.exception = errors.New("test")
	}
	if s.droppedError == nil {
		s.droppedError = errors.New("dropped")
	}
	if s.logger == nil {
		s.logger = cfg.Options.NewLogger(os.Stderr)
	}
	if s.ids == nil {
		s.ids = UUIDv7Generator{}
	}
	if s.seq == nil {
		s.seq = testutil.NewSequence()
	}
	return s, nil
}

func stringAs[I any](v string) (I, bool) {
	i, ok := any(v).(I)
	return i, ok
}

func defaultItem[I any](i int) I {
	s := "test"
	if i > 0 {
		s = fmt.Sprintf("test%d", i)
	}
	v, _ := stringAs[I](s)
	return v
}

// Item returns the i-th item of the default producer.
func (s *Suite[I, O]) Item(i int) I { return s.item(i) }

// Exception returns the error failing sources and callbacks use.
func (s *Suite[I, O]) Exception() error { return s.exception }

// Builder returns a builder over the default scenario. With empty set, the
// default scenario expects no item, as error and cancel checks do.
func (s *Suite[I, O]) Builder(empty bool) Builder[I, O] {
	d := NewScenario[I, O](nil).WithProducer(3, s.item)
	switch {
	case s.cfg.Expect != nil:
		d = d.Receive(3, s.cfg.Expect)
	default:
		if _, ok := any(s.item(0)).(O); ok {
			d = d.Receive(3, func(i int) O { return any(s.item(i)).(O) })
		} else {
			d = d.Receive(3, nil)
		}
	}
	if s.cfg.Defaults != nil {
		d = s.cfg.Defaults(d)
	}
	if empty {
		d = d.ReceiverEmpty()
	}
	return Builder[I, O]{defaults: d}
}

// Scenarios returns the scenarios check runs.
func (s *Suite[I, O]) Scenarios(c Check) []Scenario[I, O] {
	build := func(list ScenarioList[I, O], empty bool) []Scenario[I, O] {
		if list == nil {
			return nil
		}
		return list(s.Builder(empty))
	}
	or := func(list, fallback ScenarioList[I, O]) ScenarioList[I, O] {
		if list != nil {
			return list
		}
		return fallback
	}

	switch c {
	case AssertPrePostState:
		return build(or(s.cfg.TouchAndAssertState, s.cfg.OperatorSuccess), false)
	case SequenceOfNextAndComplete:
		return build(s.cfg.OperatorSuccess, false)
	case SequenceOfNextWithCallbackError:
		return build(s.cfg.OperatorError, true)
	case ErrorOnSubscribe:
		return build(or(s.cfg.ErrorFromUpstreamFailure, s.cfg.OperatorSuccess), true)
	case CancelOnSubscribe:
		list := build(s.cfg.OperatorSuccess, true)
		out := make([]Scenario[I, O], len(list))
		for i, sc := range list {
			out[i] = sc.Duplicate().ReceiverEmpty().WithReceiverDemand(0)
		}
		return out
	}
	return nil
}

func (s *Suite[I, O]) checks() []Check {
	var out []Check
	for _, c := range AllChecks() {
		if s.cfg.Options.selects(c) {
			out = append(out, c)
		}
	}
	return out
}

// describe names a scenario in reports.
func describe[I, O any](sc Scenario[I, O], idx int) string {
	if d := sc.Description(); d != "" {
		return d
	}
	return fmt.Sprintf("scenario %d", idx+1)
}

// ForEachScenario calls fn for every scenario of check, running up to
// Options.Parallelism scenarios at once. It returns the first error fn
// returns, after every call finished.
func (s *Suite[I, O]) ForEachScenario(ctx context.Context, c Check, fn func(ctx context.Context, idx int, sc Scenario[I, O]) error) error {
	var g errgroup.Group
	g.SetLimit(s.cfg.Options.parallelism())
	for i, sc := range s.Scenarios(c) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, sc)
		})
	}
	return g.Wait()
}

// RunAll runs every selected check and returns the report.
func (s *Suite[I, O]) RunAll(ctx context.Context) *Report {
	report := NewReport(s.ids.Generate())
	log := s.logger.With("run", report.RunID)
	log.Info("suite started")

	for _, c := range s.checks() {
		report.Checks++
		err := s.ForEachScenario(ctx, c, func(ctx context.Context, idx int, sc Scenario[I, O]) error {
			s.runScenario(ctx, c, idx, sc, report)
			return nil
		})
		if err != nil {
			report.AddFailure(Failure{Seq: s.seq.Next(), Check: c.String(), err: err})
		}
	}
	report.sort()

	log.Info("suite finished", "passed", report.Passed, "failed", report.Failed)
	return report
}

// Run runs every selected check and returns the joined failures, or nil.
func (s *Suite[I, O]) Run(ctx context.Context) error {
	return s.RunAll(ctx).Err()
}

// RunT runs every selected check as subtests of t, one per check and
// scenario. Each failed probe is reported with t.Errorf.
func (s *Suite[I, O]) RunT(t *testing.T) {
	t.Helper()
	for _, c := range s.checks() {
		t.Run(c.String(), func(t *testing.T) {
			for i, sc := range s.Scenarios(c) {
				t.Run(describe(sc, i), func(t *testing.T) {
					report := NewReport(s.ids.Generate())
					s.runScenario(t.Context(), c, i, sc, report)
					for _, f := range report.Failures {
						t.Errorf("%s: %s", f.Probe, f.Error)
					}
				})
			}
		})
	}
}

func (s *Suite[I, O]) runScenario(ctx context.Context, c Check, idx int, sc Scenario[I, O], report *Report) {
	name := describe(sc, idx)
	report.addScenario()
	log := s.logger.With("check", c.String(), "scenario", name)

	if err := sc.Err(); err != nil {
		report.AddFailure(Failure{
			Seq: s.seq.Next(), Check: c.String(), Scenario: name,
			err: &CheckError{Code: ErrCodeInvalidScenario, Message: "scenario misconfigured", Check: c.String(), Scenario: name, Err: err},
		})
		log.Warn("scenario misconfigured", "error", err)
		return
	}

	for _, p := range Plan(c, sc) {
		if s.cfg.Options.skips(p) {
			log.Debug("probe skipped", "probe", p.String())
			continue
		}
		err := s.runProbe(ctx, c, p, sc)
		if err == nil {
			report.addPass()
			log.Debug("probe passed", "probe", p.String())
			continue
		}
		err = locate(err, c, name, p)
		report.AddFailure(Failure{Seq: s.seq.Next(), Check: c.String(), Scenario: name, Probe: p.String(), err: err})
		log.Warn("probe failed", "probe", p.String(), "error", err)
	}
}

// runProbe runs p on a fresh environment. A panic in the transformation
// fails the probe.
func (s *Suite[I, O]) runProbe(ctx context.Context, c Check, p Probe, sc Scenario[I, O]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newCheckError(ErrCodeProbeFailed, "panic: %v\n%s", r, debug.Stack())
		}
	}()
	return runProbe(ctx, c, p, s.env(sc))
}

func (s *Suite[I, O]) env(sc Scenario[I, O]) *probeEnv[I, O] {
	timeout := s.cfg.Options.Timeout
	if timeout <= 0 {
		timeout = verify.DefaultTimeout
	}
	return &probeEnv[I, O]{
		scenario:     sc,
		itemFn:       s.item,
		dropped:      s.dropped,
		exception:    s.exception,
		droppedError: s.droppedError,
		timeout:      timeout,
		logger:       s.logger,
		drops:        NewDropRecorder(any(s.dropped), s.droppedError),
	}
}

// locate fills in where err happened. Composite errors are wrapped under
// the code of their first CheckError.
func locate(err error, c Check, scenario string, p Probe) error {
	ce, ok := err.(*CheckError)
	if ok {
		cp := *ce
		ce = &cp
	} else {
		code := ErrCodeProbeFailed
		var inner *CheckError
		if errors.As(err, &inner) {
			code = inner.Code
		}
		ce = &CheckError{Code: code, Message: "probe failed", Err: err}
	}
	ce.Check, ce.Scenario, ce.Probe = c.String(), scenario, p.String()
	return ce
}
