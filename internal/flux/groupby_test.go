package flux

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

func parity(v int) (int, error) { return v % 2, nil }

// collect drains every group of a completed GroupBy into a map by key.
func collect[K comparable, V any](t *testing.T, groups []*Group[K, V]) map[K][]V {
	t.Helper()
	out := make(map[K][]V)
	for _, g := range groups {
		c := &captor[V]{request: stream.Unbounded}
		g.Subscribe(c)
		require.NoError(t, c.err)
		require.True(t, c.done, "group %v should be complete", g.Key())
		out[g.Key()] = c.values
	}
	return out
}

func TestGroupBy_RoutesByKey(t *testing.T) {
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy(Generate(5, identity), parity, 0).Subscribe(c)

	require.NoError(t, c.err)
	require.True(t, c.done)
	require.Len(t, c.values, 2)
	assert.Equal(t, 0, c.values[0].Key(), "groups are emitted in order of first appearance")
	assert.Equal(t, 1, c.values[1].Key())

	assert.Equal(t, map[int][]int{0: {0, 2, 4}, 1: {1, 3}}, collect(t, c.values))
}

func TestGroupBy_HiddenSource(t *testing.T) {
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy(Hide(Generate(5, identity)), parity, 2).Subscribe(c)

	require.True(t, c.done)
	assert.Equal(t, map[int][]int{0: {0, 2, 4}, 1: {1, 3}}, collect(t, c.values))
}

func TestGroupByValue_MapsValues(t *testing.T) {
	c := &captor[*Group[int, string]]{request: stream.Unbounded}
	GroupByValue(FromSlice("a", "bb", "c", "dd"),
		func(s string) (int, error) { return len(s), nil },
		func(s string) (string, error) { return strings.ToUpper(s), nil },
		0).Subscribe(c)

	require.True(t, c.done)
	assert.Equal(t, map[int][]string{1: {"A", "C"}, 2: {"BB", "DD"}}, collect(t, c.values))
}

func TestGroupBy_KeyError(t *testing.T) {
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy(FromSlice(1, 2), func(int) (int, error) { return 0, errors.New("boom") }, 0).Subscribe(c)

	assert.EqualError(t, c.err, "boom")
	assert.Empty(t, c.values)
}

func TestGroupBy_NilKey(t *testing.T) {
	c := &captor[*Group[any, int]]{request: stream.Unbounded}
	GroupBy(FromSlice(1), func(int) (any, error) { return nil, nil }, 0).Subscribe(c)

	assert.ErrorIs(t, c.err, stream.ErrNilValue)
	assert.True(t, stream.IsProtocolError(c.err))
}

func TestGroupByValue_NilValue(t *testing.T) {
	c := &captor[*Group[int, *int]]{request: stream.Unbounded}
	GroupByValue(FromSlice(1), parity, func(int) (*int, error) { return nil, nil }, 0).Subscribe(c)

	assert.ErrorIs(t, c.err, stream.ErrNilValue)
}

func TestGroupBy_ErrorReachesGroups(t *testing.T) {
	ts := NewTestPublisher[int]()
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy[int](ts, parity, 0).Subscribe(c)

	ts.Next(1)
	require.Len(t, c.values, 1)
	group := &captor[int]{request: stream.Unbounded}
	c.values[0].Subscribe(group)

	ts.Error(errors.New("boom"))

	assert.EqualError(t, c.err, "boom")
	assert.Equal(t, []int{1}, group.values)
	assert.EqualError(t, group.err, "boom")
}

func TestGroupBy_Replenishes(t *testing.T) {
	up := &requestLog{}
	var feed stream.Subscriber[int]
	src := Create(func(s stream.Subscriber[int]) {
		feed = s
		s.OnSubscribe(up)
	})
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy(src, func(int) (int, error) { return 0, nil }, 4).Subscribe(c)
	require.Equal(t, []int64{4}, up.requests, "prefetch is requested upfront")

	for i := range 6 {
		feed.OnNext(i)
	}
	assert.Equal(t, []int64{4, 3, 3}, up.requests, "replenished by the limit")
}

func TestGroupBy_CancelWithoutGroupsCancelsUpstream(t *testing.T) {
	up := &requestLog{}
	c := &captor[*Group[int, int]]{}
	GroupBy(Create(func(s stream.Subscriber[int]) { s.OnSubscribe(up) }), parity, 0).Subscribe(c)

	c.s.Cancel()
	c.s.Cancel()
	assert.Equal(t, 1, up.cancelled)
}

func TestGroupBy_CancelKeepsLiveGroups(t *testing.T) {
	up := &requestLog{}
	var feed stream.Subscriber[int]
	src := Create(func(s stream.Subscriber[int]) {
		feed = s
		s.OnSubscribe(up)
	})
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy(src, parity, 0).Subscribe(c)

	feed.OnNext(1)
	require.Len(t, c.values, 1)
	group := &captor[int]{request: stream.Unbounded}
	c.values[0].Subscribe(group)

	c.s.Cancel()
	feed.OnNext(3)
	feed.OnNext(2)

	assert.Equal(t, 0, up.cancelled, "the live group still needs upstream")
	assert.Equal(t, []int{1, 3}, group.values)
	assert.Len(t, c.values, 1, "no group is emitted after cancel")
}

func TestGroupBy_AsyncFusionDownstream(t *testing.T) {
	key := func(k int) func(*Group[int, int]) error {
		return func(g *Group[int, int]) error {
			if g.Key() != k {
				return errors.New("unexpected key")
			}
			return nil
		}
	}
	err := verify.Create(GroupBy(Generate(3, identity), parity, 0), stream.Unbounded).
		ExpectFusion(stream.Async).
		AssertNext(key(0)).
		AssertNext(key(1)).
		ExpectComplete().
		Verify(t.Context())
	require.NoError(t, err)
}

func TestGroupBy_FusesWithAsyncUpstream(t *testing.T) {
	u := NewUnicast[int]()
	c := &captor[*Group[int, int]]{request: stream.Unbounded}
	GroupBy[int](u, parity, 0).Subscribe(c)

	Generate(4, identity).Subscribe(u)

	require.True(t, c.done)
	assert.Equal(t, map[int][]int{0: {0, 2}, 1: {1, 3}}, collect(t, c.values))
}

func TestGroupBy_Introspection(t *testing.T) {
	p := GroupBy(Generate(3, identity), parity, 0)
	assert.Equal(t, SmallBufferSize, p.(stream.Prefetcher).Prefetch())

	var main stream.Trackable
	c := &captor[*Group[int, int]]{}
	Peek(p, PeekHooks{OnSubscribe: func(s stream.Subscription) {
		main = s.(stream.Trackable)
	}}).Subscribe(c)
	require.NotNil(t, main)

	assert.Equal(t, int64(SmallBufferSize), main.Capacity())
	assert.Equal(t, int64(192), main.Limit())
	assert.Equal(t, int64(2), main.Pending(), "groups wait for demand")
	assert.True(t, main.IsTerminated())
	assert.False(t, main.IsStarted())
	assert.NoError(t, main.Err())

	mp := main.(stream.MultiProducer)
	assert.Equal(t, 2, mp.DownstreamCount())
	assert.True(t, mp.HasDownstreams())
	for _, d := range mp.Downstreams() {
		assert.Equal(t, main, d.(stream.Receiver).Upstream())
	}

	c.s.Request(2)
	assert.Len(t, c.values, 2)
	assert.True(t, c.done)
	assert.Equal(t, "Group(0)", c.values[0].String())
}
