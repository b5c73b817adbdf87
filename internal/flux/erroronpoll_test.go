package flux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

func TestErrorOnPoll_FailsFusedPoll(t *testing.T) {
	boom := errors.New("boom")
	err := verify.Create(ErrorOnPoll(FromSlice(1, 2), boom), 0).
		ExpectFusion(stream.Sync).
		ConsumeErrorWith(func(err error) error {
			if !errors.Is(err, boom) {
				return err
			}
			return nil
		}).
		Verify(t.Context())
	require.NoError(t, err)
}

func TestErrorOnPoll_PassesSignalsThrough(t *testing.T) {
	err := verify.Create(ErrorOnPoll(FromSlice(1, 2), errors.New("boom")), stream.Unbounded).
		ExpectNext(1, 2).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)
}

func TestErrorOnPoll_EmptyPollIsNotAnError(t *testing.T) {
	c := &captor[int]{}
	ErrorOnPoll[int](NewUnicast[int](), errors.New("boom")).Subscribe(c)

	qs := c.s.(stream.QueueSubscription[int])
	require.Equal(t, stream.Async, qs.RequestFusion(stream.Async))
	_, ok, err := qs.Poll()
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestErrorOnPollNext_BypassesStage(t *testing.T) {
	u := NewUnicast[int]()
	c := &captor[int]{}
	ErrorOnPoll[int](u, errors.New("boom")).Subscribe(c)

	stage := u.Actual()
	require.NotNil(t, stage)
	assert.False(t, ErrorOnPollShouldTryNext(stage), "captor is not conditional")

	ErrorOnPollNext(stage, 7)
	ErrorOnPollTryNext(stage, 8)
	assert.Equal(t, []int{7}, c.values)

	// Any other subscriber just gets OnNext.
	ErrorOnPollNext[int](c, 9)
	assert.Equal(t, []int{7, 9}, c.values)
}

func TestErrorOnPollTryNext_ConditionalFusable(t *testing.T) {
	u := NewUnicast[int]()
	c := &captor[int]{}
	Filter(ErrorOnPoll[int](u, errors.New("boom")), func(v int) bool { return v > 0 }).Subscribe(c)

	stage := u.Actual()
	require.True(t, ErrorOnPollShouldTryNext(stage))

	ErrorOnPollTryNext(stage, 0)
	ErrorOnPollTryNext(stage, 3)
	assert.Equal(t, []int{3}, c.values)
}
