package flux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/stream"
)

func TestTestPublisher_HonorsDemand(t *testing.T) {
	ts := NewTestPublisher[int]()
	c := &captor[int]{request: 2}
	ts.Subscribe(c)

	ts.Next(1, 2)
	ts.Complete()

	assert.Equal(t, []int{1, 2}, c.values)
	assert.True(t, c.done)
	assert.False(t, ts.HasDownstreams(), "a compliant publisher detaches on termination")
}

func TestTestPublisher_OverflowFailsSubscriber(t *testing.T) {
	ts := NewTestPublisher[int]()
	c := &captor[int]{request: 1}
	ts.Subscribe(c)

	ts.Next(1, 2)

	assert.Equal(t, []int{1}, c.values)
	require.ErrorIs(t, c.err, stream.ErrOverflow)
	assert.Equal(t, 0, ts.DownstreamCount())
}

func TestTestPublisher_RequestOverflow(t *testing.T) {
	ts := NewTestPublisher[int](RequestOverflow)
	c := &captor[int]{}
	ts.Subscribe(c)

	ts.Next(1, 2)

	assert.Equal(t, []int{1, 2}, c.values)
	assert.NoError(t, c.err)
}

func TestTestPublisher_CleanupOnTerminate(t *testing.T) {
	ts := NewTestPublisher[int](CleanupOnTerminate)
	c := &captor[int]{request: stream.Unbounded}
	ts.Subscribe(c)

	ts.Error(errors.New("first"))
	ts.Next(1)
	ts.Complete()

	assert.EqualError(t, c.err, "first")
	assert.Equal(t, []int{1}, c.values, "signals after termination still reach the subscriber")
	assert.True(t, c.done)
	assert.Equal(t, 1, ts.DownstreamCount())
}

func TestTestPublisher_LateSubscriberGetsTerminal(t *testing.T) {
	ts := NewTestPublisher[int]()
	ts.Error(errors.New("boom"))

	c := &captor[int]{}
	ts.Subscribe(c)

	assert.NotNil(t, c.s)
	assert.EqualError(t, c.err, "boom")
	assert.False(t, ts.HasDownstreams())
}

func TestTestPublisher_CancelDetaches(t *testing.T) {
	ts := NewTestPublisher[int]()
	a := &captor[int]{request: stream.Unbounded}
	b := &captor[int]{request: stream.Unbounded}
	ts.Subscribe(a)
	ts.Subscribe(b)
	require.Equal(t, 2, ts.DownstreamCount())
	assert.Len(t, ts.Downstreams(), 2)

	a.s.Cancel()
	ts.Next(1)

	assert.Empty(t, a.values)
	assert.Equal(t, []int{1}, b.values)
	assert.Equal(t, []any{b}, ts.Downstreams())
}

func TestViolation_String(t *testing.T) {
	assert.Equal(t, "CLEANUP_ON_TERMINATE", CleanupOnTerminate.String())
	assert.Equal(t, "REQUEST_OVERFLOW", RequestOverflow.String())
	assert.Equal(t, "Violation(9)", Violation(9).String())
}
