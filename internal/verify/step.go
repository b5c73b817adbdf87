package verify

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/streamcert/internal/stream"
)

// DefaultTimeout bounds a verification whose context has no deadline.
const DefaultTimeout = 5 * time.Second

// Option configures a Step.
type Option func(*options)

type options struct {
	timeout time.Duration
	hooks   *stream.Hooks
	logger  *slog.Logger
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHooks attaches drop hooks to the recording subscriber. Operators
// upstream report signals they drop after termination to these hooks.
func WithHooks(h *stream.Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithLogger sets the logger used for verification diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// State is the terminal state a verified sequence ended in.
type State int

const (
	// Pending means verification has not reached a terminal step.
	Pending State = iota
	Completed
	Errored
	Cancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Result summarizes a verification run.
type Result struct {
	State  State
	Err    error             // terminal error when State is Errored
	Items  int               // items consumed by the script
	Fusion stream.FusionMode // mode granted by the subscription
}

// Step is a verification script for one subscription to a publisher.
// It is built fluently and run once with Verify.
type Step[T any] struct {
	source stream.Publisher[T]
	demand int64
	opts   options

	fusionRequested stream.FusionMode
	fusionExpected  stream.FusionMode
	checkFusion     bool

	steps  []scriptStep[T]
	result Result
}

type scriptStep[T any] struct {
	name     string
	terminal bool
	run      func(ctx context.Context, x *execution[T]) error
}

// Create starts a script for p. demand is requested right after
// subscription; 0 requests nothing.
func Create[T any](p stream.Publisher[T], demand int64, opts ...Option) *Step[T] {
	o := options{
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Step[T]{source: p, demand: demand, opts: o}
}

// Hooks returns the drop hooks attached with WithHooks, or nil.
func (s *Step[T]) Hooks() *stream.Hooks { return s.opts.hooks }

// Result returns the summary of the last Verify call.
func (s *Step[T]) Result() Result { return s.result }

func (s *Step[T]) add(name string, terminal bool, run func(context.Context, *execution[T]) error) *Step[T] {
	s.steps = append(s.steps, scriptStep[T]{name: name, terminal: terminal, run: run})
	return s
}

// ExpectFusion requests mode from a QueueSubscription and expects it to be
// granted as is. ExpectFusion(stream.None) negotiates nothing.
func (s *Step[T]) ExpectFusion(mode stream.FusionMode) *Step[T] {
	return s.ExpectFusionWith(mode, mode)
}

// ExpectFusionWith requests the requested mode and expects expected to be
// granted.
func (s *Step[T]) ExpectFusionWith(requested, expected stream.FusionMode) *Step[T] {
	s.fusionRequested = requested
	s.fusionExpected = expected
	s.checkFusion = requested != stream.None
	return s
}

// ConsumeSubscription hands the raw subscription to fn. Demand requested
// directly through it is not tracked; use ThenRequest to add demand.
func (s *Step[T]) ConsumeSubscription(fn func(sub stream.Subscription) error) *Step[T] {
	return s.add("consumeSubscription", false, func(_ context.Context, x *execution[T]) error {
		if err := fn(x.sub.subscription()); err != nil {
			return x.fail("consumeSubscription", "subscription assertion to hold", err.Error())
		}
		return nil
	})
}

// Then runs fn, typically to push signals into a source.
func (s *Step[T]) Then(fn func()) *Step[T] {
	return s.add("then", false, func(context.Context, *execution[T]) error {
		fn()
		return nil
	})
}

// ThenRequest requests n more items.
func (s *Step[T]) ThenRequest(n int64) *Step[T] {
	return s.add("thenRequest", false, func(_ context.Context, x *execution[T]) error {
		x.sub.request(n)
		return nil
	})
}

// ExpectNext expects the given items, in order.
func (s *Step[T]) ExpectNext(vs ...T) *Step[T] {
	return s.add("expectNext", false, func(ctx context.Context, x *execution[T]) error {
		for _, v := range vs {
			if err := x.expectNext(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// AssertNext expects one item and runs fn on it.
func (s *Step[T]) AssertNext(fn func(v T) error) *Step[T] {
	return s.add("assertNext", false, func(ctx context.Context, x *execution[T]) error {
		v, err := x.nextItem(ctx, "assertNext")
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return x.fail("assertNext", "item assertion to hold", err.Error())
		}
		return nil
	})
}

// ExpectNextCount expects n items of any value.
func (s *Step[T]) ExpectNextCount(n int64) *Step[T] {
	return s.add("expectNextCount", false, func(ctx context.Context, x *execution[T]) error {
		for i := int64(0); i < n; i++ {
			if _, err := x.nextItem(ctx, "expectNextCount"); err != nil {
				return err
			}
		}
		return nil
	})
}

// ExpectNoNext expects that no item is pending right now. A pending terminal
// signal is fine.
func (s *Step[T]) ExpectNoNext() *Step[T] {
	return s.add("expectNoNext", false, func(_ context.Context, x *execution[T]) error {
		if sig, ok := x.sub.rec.Peek(); ok && sig.kind == signalNext {
			return x.fail("expectNoNext", "no item", sig.String())
		}
		return nil
	})
}

// ExpectComplete expects completion and ends the script.
func (s *Step[T]) ExpectComplete() *Step[T] {
	return s.add("expectComplete", true, func(ctx context.Context, x *execution[T]) error {
		sig, err := x.next(ctx, "expectComplete")
		if err != nil {
			return err
		}
		if sig.kind != signalComplete {
			return x.fail("expectComplete", "onComplete", sig.String())
		}
		x.result.State = Completed
		return nil
	})
}

// ExpectError expects any error and ends the script.
func (s *Step[T]) ExpectError() *Step[T] {
	return s.ConsumeErrorWith(func(error) error { return nil })
}

// ExpectErrorMessage expects an error whose message is exactly msg.
func (s *Step[T]) ExpectErrorMessage(msg string) *Step[T] {
	return s.ConsumeErrorWith(func(err error) error {
		if err.Error() != msg {
			return &AssertionError{Type: "expectErrorMessage", Expected: msg, Actual: err.Error()}
		}
		return nil
	})
}

// ConsumeErrorWith expects an error, hands it to fn and ends the script.
func (s *Step[T]) ConsumeErrorWith(fn func(err error) error) *Step[T] {
	return s.add("expectError", true, func(ctx context.Context, x *execution[T]) error {
		sig, err := x.next(ctx, "expectError")
		if err != nil {
			return err
		}
		if sig.kind != signalError {
			return x.fail("expectError", "onError", sig.String())
		}
		if err := fn(sig.err); err != nil {
			if ae, ok := AsAssertionError(err); ok {
				return x.fail(ae.Type, ae.Expected, ae.Actual)
			}
			return x.fail("expectError", "error assertion to hold", err.Error())
		}
		x.result.State = Errored
		x.result.Err = sig.err
		return nil
	})
}

// ThenCancel cancels the subscription and ends the script. Items that were
// delivered but not consumed by the script fail verification.
func (s *Step[T]) ThenCancel() *Step[T] {
	return s.add("thenCancel", true, func(_ context.Context, x *execution[T]) error {
		for {
			sig, ok := x.sub.rec.TryDequeue()
			if !ok {
				break
			}
			if sig.kind == signalNext {
				return x.fail("thenCancel", "no unexpected item before cancel", sig.String())
			}
		}
		x.sub.cancel()
		x.result.State = Cancelled
		return nil
	})
}
