package flux

import (
	"github.com/roach88/streamcert/internal/stream"
)

// captor records every signal it receives and requests nothing unless
// request is set.
type captor[T any] struct {
	request int64
	hooks   *stream.Hooks

	s      stream.Subscription
	values []T
	err    error
	done   bool
}

func (c *captor[T]) OnSubscribe(s stream.Subscription) {
	c.s = s
	if c.request > 0 {
		s.Request(c.request)
	}
}

func (c *captor[T]) OnNext(v T)           { c.values = append(c.values, v) }
func (c *captor[T]) OnError(err error)    { c.err = err }
func (c *captor[T]) OnComplete()          { c.done = true }
func (c *captor[T]) Hooks() *stream.Hooks { return c.hooks }

// dropLog collects dropped signals.
type dropLog struct {
	items []any
	errs  []error
}

func (d *dropLog) hooks() *stream.Hooks {
	return &stream.Hooks{
		OnNextDropped:  func(v any) { d.items = append(d.items, v) },
		OnErrorDropped: func(err error) { d.errs = append(d.errs, err) },
	}
}

// requestLog is an upstream subscription that records what it is asked.
type requestLog struct {
	requests  []int64
	cancelled int
}

func (r *requestLog) Request(n int64) { r.requests = append(r.requests, n) }
func (r *requestLog) Cancel()         { r.cancelled++ }

func values[T any](n int, fn func(i int) T) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = fn(i)
	}
	return out
}

func identity(i int) int { return i }
