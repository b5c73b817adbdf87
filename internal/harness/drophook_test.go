package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
)

var errDropped = errors.New("dropped")

// hooked forwards every injected signal straight to the recorder hooks.
func hooked(d *DropRecorder, withTryNext bool) Injection[string] {
	inj := Injection[string]{
		Next:     func(v string) { d.Hooks().OnNextDropped(v) },
		Complete: func() {},
		Error:    func(err error) { d.Hooks().OnErrorDropped(err) },
	}
	if withTryNext {
		inj.TryNext = inj.Next
	}
	return inj
}

func TestDropRecorder_AllFired(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	InjectAfterTerminal(d, hooked(d, true), DropFlags{Next: true, Error: true}, "dropped")

	next, errs := d.Fired()
	assert.Equal(t, 2, next)
	assert.Equal(t, 1, errs)
	assert.NoError(t, d.Check())
}

func TestDropRecorder_MissingFiring(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	inj := hooked(d, false)
	inj.Next = func(string) {}
	InjectAfterTerminal(d, inj, DropFlags{Next: true, Error: true}, "dropped")

	err := d.Check()
	require.Error(t, err)
	assert.True(t, IsDropHookError(err))
	assert.Contains(t, err.Error(), "next dropped hook fired 0 times, want 1")
}

func TestDropRecorder_UnexpectedFiring(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	d.Hooks().OnErrorDropped(errDropped)

	err := d.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error dropped hook fired 1 times, want 0")
}

func TestDropRecorder_WrongPayload(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	inj := hooked(d, false)
	inj.Next = func(string) { d.Hooks().OnNextDropped("other") }
	inj.Error = func(error) { d.Hooks().OnErrorDropped(errors.New("other")) }
	InjectAfterTerminal(d, inj, DropFlags{Next: true, Error: true}, "dropped")

	err := d.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next dropped other, want dropped")
	assert.Contains(t, err.Error(), "error dropped other, want dropped")
}

func TestDropRecorder_MatchesErrorsByIdentityOrMessage(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	d.expectError()
	d.Hooks().OnErrorDropped(fmt.Errorf("wrapped: %w", errDropped))
	d.expectError()
	d.Hooks().OnErrorDropped(errors.New("dropped"))

	assert.NoError(t, d.Check())
}

func TestInjectAfterTerminal_Flags(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	InjectAfterTerminal(d, hooked(d, true), DropFlags{}, "dropped")
	next, errs := d.Fired()
	assert.Equal(t, 2, next, "signals are injected even when no hook is expected")
	assert.Equal(t, 1, errs)
	err := d.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next dropped hook fired 2 times, want 0")
	assert.Contains(t, err.Error(), "error dropped hook fired 1 times, want 0")

	d = NewDropRecorder("dropped", errDropped)
	inj := hooked(d, true)
	inj.Next = func(string) {}
	inj.TryNext = inj.Next
	InjectAfterTerminal(d, inj, DropFlags{Error: true}, "dropped")
	assert.NoError(t, d.Check(), "a silent next hook matches a disabled flag")

	d = NewDropRecorder("dropped", errDropped)
	inj = hooked(d, false)
	inj.Complete = nil
	InjectAfterTerminal(d, inj, DropFlags{Next: true, Error: true}, "dropped")
	next, errs = d.Fired()
	assert.Equal(t, 1, next)
	assert.Zero(t, errs, "no error is injected without a completion")
	assert.NoError(t, d.Check())
}

func TestDropRecorder_ThroughOperator(t *testing.T) {
	d := NewDropRecorder("dropped", errDropped)
	ts := flux.NewTestPublisher[string](flux.CleanupOnTerminate)

	var sink carrier
	sink.hooks = d.Hooks()
	flux.Map[string, string](ts, func(s string) (string, error) { return s, nil }).Subscribe(&sink)

	ts.Complete()
	InjectAfterTerminal(d, Injection[string]{
		Next:     func(v string) { ts.Next(v) },
		Complete: ts.Complete,
		Error:    ts.Error,
	}, DropFlags{Next: true, Error: true}, "dropped")

	assert.NoError(t, d.Check())
	assert.True(t, sink.completed)
}

// carrier is a subscriber with drop hooks and unbounded demand.
type carrier struct {
	hooks     *stream.Hooks
	completed bool
}

func (c *carrier) Hooks() *stream.Hooks              { return c.hooks }
func (c *carrier) OnSubscribe(s stream.Subscription) { s.Request(stream.Unbounded) }
func (c *carrier) OnNext(string)                     {}
func (c *carrier) OnError(error)                     {}
func (c *carrier) OnComplete()                       { c.completed = true }
