package harness

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
)

// stateChecker accumulates lifecycle failures raised inside callbacks, which
// cannot return errors themselves.
type stateChecker struct {
	mu   sync.Mutex
	errs []error
}

func (c *stateChecker) check(ok bool, format string, args ...any) {
	if ok {
		return
	}
	c.add(newCheckError(ErrCodeState, format, args...))
}

func (c *stateChecker) add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
}

func (c *stateChecker) walk(node any) { c.add(Walk(node)) }

func (c *stateChecker) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.errs...)
}

// prefetchOf returns the prefetch a publisher declares, or Unspecified.
func prefetchOf(p any) int {
	if pf, ok := p.(stream.Prefetcher); ok {
		return pf.Prefetch()
	}
	return int(stream.Unspecified)
}

// assertPrePostState drives the transformation's subscriber by hand: it
// inspects it before subscription, subscribes it twice (the second one must
// be cancelled) plus once with an already cancelled subscription, completes
// it and inspects it again. It then subscribes through peeking stages to
// inspect the live chain on every item.
func assertPrePostState[I, O any](x *probeEnv[I, O]) error {
	s := x.scenario
	c := &stateChecker{}
	prefetch := s.prefetch
	specified := prefetch != int(stream.Unspecified)

	handDriven := flux.Create(func(sub stream.Subscriber[I]) {
		t, _ := sub.(stream.Trackable)
		if t != nil {
			c.check(t.Err() == nil, "error %v before subscription", t.Err())
			c.check(!t.IsStarted(), "started before subscription")
			c.check(!t.IsTerminated(), "terminated before subscription")
			c.check(!t.IsCancelled(), "cancelled before subscription")
			if specified {
				if capacity := t.Capacity(); capacity != stream.Unspecified {
					got := min(capacity, int64(maxInt32))
					c.check(got == int64(prefetch), "capacity %d, prefetch %d", got, prefetch)
				}
				if limit := t.Limit(); limit != stream.Unspecified {
					c.check(limit == int64(DefaultLimit(prefetch)), "limit %d, want %d", limit, DefaultLimit(prefetch))
				}
			}
		}
		if r, ok := sub.(stream.Receiver); ok {
			c.check(isNilNode(r.Upstream()), "upstream %v before subscription", r.Upstream())
		}
		c.walk(sub)

		sub.OnSubscribe(stream.EmptySubscription)
		sub.OnSubscribe(stream.EmptySubscription)
		sub.OnSubscribe(stream.CancelledSubscription)

		if t != nil {
			c.check(t.IsStarted(), "not started after subscription")
			if n := t.ExpectedFromUpstream(); n != stream.Unspecified && specified {
				c.check(n >= 0 && n <= int64(prefetch), "expected from upstream %d, prefetch %d", n, prefetch)
			}
			if n := t.RequestedFromDownstream(); n != stream.Unspecified {
				c.check(n == stream.Unbounded, "requested from downstream %d, want unbounded", n)
			}
		}

		sub.OnComplete()

		if t != nil {
			c.walk(sub)
			if s.postTerminate {
				c.check(!t.IsStarted(), "started after completion")
				c.check(t.IsTerminated(), "not terminated after completion")
			}
		}
	})

	f := x.body(handDriven)
	if specified {
		if got := prefetchOf(f); got != int(stream.Unspecified) {
			c.check(got == prefetch, "declared prefetch %d, want %d", got, prefetch)
		}
	}
	checkLoopback(c, f)
	flux.Subscribe(f, nil, nil, nil)

	conditional := flux.Filter(x.body(handDriven), alwaysTrue[O])
	if r, ok := conditional.(stream.Receiver); ok && specified {
		if got := prefetchOf(r.Upstream()); got != int(stream.Unspecified) {
			c.check(got == prefetch, "declared prefetch %d behind a conditional consumer, want %d", got, prefetch)
		}
	}
	flux.Subscribe(conditional, nil, nil, nil)

	var (
		refMu sync.Mutex
		ref   stream.Trackable
	)
	tracked := func() stream.Trackable {
		refMu.Lock()
		defer refMu.Unlock()
		return ref
	}
	live := x.body(flux.DoOnSubscribe(FiniteSource(s), func(sub stream.Subscription) {
		p, ok := sub.(stream.Producer)
		if !ok {
			return
		}
		peek, ok := p.Downstream().(stream.Producer)
		if !ok {
			return
		}
		t, ok := peek.Downstream().(stream.Trackable)
		if !ok {
			return
		}
		refMu.Lock()
		ref = t
		refMu.Unlock()
		c.check(!t.IsStarted(), "started before upstream subscription")
		if n := t.ExpectedFromUpstream(); n != stream.Unspecified && specified {
			c.check(n == 0, "expected from upstream %d before request", n)
		}
	}))
	if specified {
		if got := prefetchOf(live); got != int(stream.Unspecified) {
			c.check(got == prefetch, "declared prefetch %d, want %d", got, prefetch)
		}
	}

	var resubscribing, forwarded atomic.Bool
	peeked := flux.Peek(live, flux.PeekHooks{
		OnSubscribe: func(parent stream.Subscription) {
			if r, ok := parent.(stream.Receiver); ok {
				c.check(!isNilNode(r.Upstream()), "no upstream after subscription")
			}
			if t, ok := parent.(stream.Trackable); ok {
				c.check(t.IsStarted(), "not started after subscription")
				c.check(!t.IsTerminated(), "terminated after subscription")
			}
			sub, ok := parent.(stream.Subscriber[I])
			if !ok {
				return
			}
			// A subscriber that forwards the extra subscriptions downstream
			// re-enters this hook.
			if !resubscribing.CompareAndSwap(false, true) {
				forwarded.Store(true)
				return
			}
			defer resubscribing.Store(false)
			sub.OnSubscribe(stream.EmptySubscription)
			sub.OnSubscribe(stream.CancelledSubscription)
		},
		OnComplete: func() {
			t := tracked()
			if t == nil || !s.postTerminate {
				return
			}
			c.check(!t.IsStarted(), "started after completion")
			c.check(t.IsTerminated(), "not terminated after completion")
		},
	})
	touch := func(O) {
		if t := tracked(); t != nil {
			c.walk(t)
		}
	}
	flux.Subscribe(peeked, touch, nil, nil)
	flux.Subscribe(flux.Filter(peeked, alwaysTrue[O]), touch, nil, nil)
	c.check(!forwarded.Load(), "second OnSubscribe forwarded downstream")

	if err := c.err(); err != nil {
		return fmt.Errorf("pre/post state: %w", err)
	}
	return nil
}

func checkLoopback(c *stateChecker, p any) {
	if lb, ok := p.(stream.Loopback); ok {
		c.check(!isNilNode(lb.ConnectedInput()), "loopback input is nil")
		_ = lb.ConnectedOutput()
	}
}
