package flux

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/roach88/streamcert/internal/stream"
)

// SmallBufferSize is the default prefetch of buffering operators.
const SmallBufferSize = 256

// Group is one keyed sub-sequence emitted by GroupBy. It accepts a single
// subscriber and buffers values until that subscriber requests them.
type Group[K comparable, V any] struct {
	key    K
	parent any
	values *Unicast[V]
}

// Key returns the key shared by every value of the group.
func (g *Group[K, V]) Key() K { return g.key }

// Subscribe implements stream.Publisher.
func (g *Group[K, V]) Subscribe(s stream.Subscriber[V]) { g.values.Subscribe(s) }

// Upstream implements stream.Receiver by pointing at the parent operator.
func (g *Group[K, V]) Upstream() any { return g.parent }

// String renders the group for diagnostics.
func (g *Group[K, V]) String() string { return fmt.Sprintf("Group(%v)", g.key) }

// GroupBy splits source into one Group per key returned by keyFn.
//
// The operator prefetches prefetch values from upstream and replenishes by
// the standard limit (prefetch minus a quarter) as values are routed. It
// fuses with its upstream when possible and offers ASYNC fusion downstream.
// A nil key is an error (ErrNilValue), as is an error from keyFn.
func GroupBy[T any, K comparable](source stream.Publisher[T], keyFn func(T) (K, error), prefetch int) stream.Publisher[*Group[K, T]] {
	return GroupByValue(source, keyFn, func(v T) (T, error) { return v, nil }, prefetch)
}

// GroupByValue is GroupBy with a value mapper applied to each routed value.
// A nil mapped value is an error (ErrNilValue).
func GroupByValue[T any, K comparable, V any](source stream.Publisher[T], keyFn func(T) (K, error), valueFn func(T) (V, error), prefetch int) stream.Publisher[*Group[K, V]] {
	if prefetch <= 0 {
		prefetch = SmallBufferSize
	}
	return &groupByPublisher[T, K, V]{source: source, keyFn: keyFn, valueFn: valueFn, prefetch: prefetch}
}

type groupByPublisher[T any, K comparable, V any] struct {
	source   stream.Publisher[T]
	keyFn    func(T) (K, error)
	valueFn  func(T) (V, error)
	prefetch int
}

func (p *groupByPublisher[T, K, V]) Subscribe(s stream.Subscriber[*Group[K, V]]) {
	p.source.Subscribe(&groupByMain[T, K, V]{
		actual:   s,
		keyFn:    p.keyFn,
		valueFn:  p.valueFn,
		prefetch: p.prefetch,
		limit:    int64(p.prefetch - p.prefetch>>2),
		groups:   make(map[K]*Group[K, V]),
		pending:  newQueue[*Group[K, V]](),
	})
}

// Prefetch implements stream.Prefetcher.
func (p *groupByPublisher[T, K, V]) Prefetch() int { return p.prefetch }

// Upstream implements stream.Receiver.
func (p *groupByPublisher[T, K, V]) Upstream() any { return p.source }

type groupByMain[T any, K comparable, V any] struct {
	actual   stream.Subscriber[*Group[K, V]]
	keyFn    func(T) (K, error)
	valueFn  func(T) (V, error)
	prefetch int
	limit    int64

	s          stream.Subscription
	qs         stream.QueueSubscription[T]
	sourceMode stream.FusionMode
	consumed   int64

	mu     sync.Mutex
	groups map[K]*Group[K, V]

	// pending holds groups created but not yet emitted downstream.
	pending *queue[*Group[K, V]]

	requested   atomic.Int64
	wip         atomic.Int32
	done        atomic.Bool
	cancelled   atomic.Bool
	terminated  atomic.Bool
	err         error
	outputFused bool
}

func (m *groupByMain[T, K, V]) OnSubscribe(s stream.Subscription) {
	if !stream.ValidateSubscription(m.s, s) {
		return
	}
	m.s = s
	if qs, ok := s.(stream.QueueSubscription[T]); ok {
		switch mode := qs.RequestFusion(stream.Any); mode {
		case stream.Sync:
			m.qs, m.sourceMode = qs, mode
			m.actual.OnSubscribe(m)
			if !m.cancelled.Load() {
				m.drainSource()
			}
			return
		case stream.Async:
			m.qs, m.sourceMode = qs, mode
		}
	}
	m.actual.OnSubscribe(m)
	s.Request(int64(m.prefetch))
}

func (m *groupByMain[T, K, V]) OnNext(v T) {
	if m.done.Load() {
		stream.NextDropped(m.actual, v)
		return
	}
	if m.sourceMode == stream.Async {
		m.drainSource()
		return
	}
	m.route(v)
}

func (m *groupByMain[T, K, V]) OnError(err error) {
	if m.done.Load() {
		stream.ErrorDropped(m.actual, err)
		return
	}
	m.fail(err)
}

func (m *groupByMain[T, K, V]) OnComplete() {
	if m.done.Load() {
		return
	}
	m.done.Store(true)
	for _, g := range m.snapshot() {
		g.values.OnComplete()
	}
	m.drain()
}

// drainSource polls a fused upstream until it is empty.
func (m *groupByMain[T, K, V]) drainSource() {
	for {
		if m.done.Load() {
			return
		}
		v, ok, err := m.qs.Poll()
		if err != nil {
			m.s.Cancel()
			m.fail(err)
			return
		}
		if !ok {
			break
		}
		if !m.route(v) {
			return
		}
	}
	if m.sourceMode == stream.Sync {
		m.OnComplete()
	}
}

// route sends v to its group, creating and announcing the group on first use.
func (m *groupByMain[T, K, V]) route(v T) bool {
	key, err := m.keyFn(v)
	if err == nil && isNil(key) {
		err = fmt.Errorf("%w: the key returned by the key function", stream.ErrNilValue)
	}
	if err != nil {
		m.s.Cancel()
		m.fail(err)
		return false
	}
	value, err := m.valueFn(v)
	if err == nil && isNil(value) {
		err = fmt.Errorf("%w: the value returned by the value function", stream.ErrNilValue)
	}
	if err != nil {
		m.s.Cancel()
		m.fail(err)
		return false
	}

	m.mu.Lock()
	g, found := m.groups[key]
	if !found && !m.cancelled.Load() {
		g = &Group[K, V]{key: key, parent: m, values: NewUnicast[V]()}
		m.groups[key] = g
	}
	m.mu.Unlock()

	if g != nil {
		g.values.OnNext(value)
	}
	if !found && g != nil {
		m.pending.Offer(g)
		m.drain()
	}
	m.replenish()
	return true
}

func (m *groupByMain[T, K, V]) replenish() {
	if m.sourceMode == stream.Sync {
		return
	}
	m.consumed++
	if m.consumed == m.limit {
		m.consumed = 0
		m.s.Request(m.limit)
	}
}

func (m *groupByMain[T, K, V]) fail(err error) {
	m.err = err
	m.done.Store(true)
	for _, g := range m.snapshot() {
		g.values.OnError(err)
	}
	m.drain()
}

func (m *groupByMain[T, K, V]) snapshot() []*Group[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Group[K, V], 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out
}

func (m *groupByMain[T, K, V]) drain() {
	if m.wip.Add(1) != 1 {
		return
	}
	if m.outputFused {
		m.drainFused()
		return
	}
	m.drainLoop()
}

func (m *groupByMain[T, K, V]) drainLoop() {
	missed := int32(1)
	for {
		r := m.requested.Load()
		var e int64
		for e != r {
			d := m.done.Load()
			g, ok := m.pending.Poll()
			if m.checkTerminated(d, !ok) {
				return
			}
			if !ok {
				break
			}
			m.actual.OnNext(g)
			e++
		}
		if e == r && m.checkTerminated(m.done.Load(), m.pending.Len() == 0) {
			return
		}
		if e != 0 && r != stream.Unbounded {
			m.requested.Add(-e)
		}
		missed = m.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (m *groupByMain[T, K, V]) drainFused() {
	missed := int32(1)
	for {
		if m.cancelled.Load() {
			return
		}
		d := m.done.Load()
		m.actual.OnNext(nil)
		if d {
			m.terminate()
			return
		}
		missed = m.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (m *groupByMain[T, K, V]) checkTerminated(done, empty bool) bool {
	if m.cancelled.Load() {
		m.pending.Clear()
		return true
	}
	if !done {
		return false
	}
	if m.err != nil {
		m.pending.Clear()
		m.terminate()
		return true
	}
	if empty {
		m.terminate()
		return true
	}
	return false
}

func (m *groupByMain[T, K, V]) terminate() {
	m.terminated.Store(true)
	if m.err != nil {
		m.actual.OnError(m.err)
		return
	}
	m.actual.OnComplete()
}

// Request implements stream.Subscription.
func (m *groupByMain[T, K, V]) Request(n int64) {
	if n <= 0 {
		return
	}
	addRequest(&m.requested, n)
	m.drain()
}

// Cancel stops the emission of new groups. Upstream is only cancelled while
// no group exists; groups already emitted keep receiving their values.
func (m *groupByMain[T, K, V]) Cancel() {
	if m.cancelled.Swap(true) {
		return
	}
	m.mu.Lock()
	empty := len(m.groups) == 0
	m.mu.Unlock()
	if empty && m.s != nil {
		m.s.Cancel()
	}
	if !m.outputFused {
		m.drain()
	}
}

func (m *groupByMain[T, K, V]) RequestFusion(mode stream.FusionMode) stream.FusionMode {
	if mode.Has(stream.Async) {
		m.outputFused = true
		return stream.Async
	}
	return stream.None
}

func (m *groupByMain[T, K, V]) Poll() (*Group[K, V], bool, error) {
	g, ok := m.pending.Poll()
	return g, ok, nil
}

func (m *groupByMain[T, K, V]) Size() int { return m.pending.Len() }

func (m *groupByMain[T, K, V]) IsEmpty() bool { return m.pending.Len() == 0 }

func (m *groupByMain[T, K, V]) Clear() { m.pending.Clear() }

func (m *groupByMain[T, K, V]) Hooks() *stream.Hooks { return stream.HooksOf(m.actual) }

// Upstream implements stream.Receiver.
func (m *groupByMain[T, K, V]) Upstream() any { return subscriptionOf(m.s) }

// Downstream implements stream.Producer.
func (m *groupByMain[T, K, V]) Downstream() any { return m.actual }

// Downstreams implements stream.MultiProducer.
func (m *groupByMain[T, K, V]) Downstreams() []any {
	groups := m.snapshot()
	out := make([]any, len(groups))
	for i, g := range groups {
		out[i] = g
	}
	return out
}

// DownstreamCount implements stream.MultiProducer.
func (m *groupByMain[T, K, V]) DownstreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

// HasDownstreams implements stream.MultiProducer.
func (m *groupByMain[T, K, V]) HasDownstreams() bool { return m.DownstreamCount() > 0 }

// Trackable state.

func (m *groupByMain[T, K, V]) RequestedFromDownstream() int64 { return m.requested.Load() }

func (m *groupByMain[T, K, V]) ExpectedFromUpstream() int64 { return stream.Unspecified }

func (m *groupByMain[T, K, V]) Pending() int64 { return int64(m.pending.Len()) }

func (m *groupByMain[T, K, V]) Capacity() int64 { return int64(m.prefetch) }

func (m *groupByMain[T, K, V]) Limit() int64 { return m.limit }

func (m *groupByMain[T, K, V]) Err() error { return m.err }

func (m *groupByMain[T, K, V]) IsStarted() bool {
	return m.s != nil && !m.cancelled.Load() && !m.done.Load()
}

func (m *groupByMain[T, K, V]) IsTerminated() bool { return m.done.Load() }

func (m *groupByMain[T, K, V]) IsCancelled() bool { return m.cancelled.Load() }

// isNil reports whether v holds a nil pointer, map, slice, func, chan or
// interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
