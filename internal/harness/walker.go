package harness

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/streamcert/internal/stream"
)

// Walk visits node and every node reachable from it through introspection
// links, touching every exposed value. It fails when the root claims a single
// upstream or downstream it does not hold, when a loopback misses its input,
// when multi-link counts disagree with the links, or when tracked values are
// out of range. Each node is visited once.
func Walk(node any) error {
	w := &walker{visited: make(map[visitKey]bool)}
	w.visit(node, 0)
	return errors.Join(w.errs...)
}

// maxWalkDepth bounds chains of nodes without identity, which the visited
// set cannot break.
const maxWalkDepth = 1024

type walker struct {
	visited map[visitKey]bool
	errs    []error
	tooDeep bool
}

func (w *walker) failf(node any, format string, args ...any) {
	err := newCheckError(ErrCodeIntrospection, "%T: %s", node, fmt.Sprintf(format, args...))
	w.errs = append(w.errs, err)
}

func (w *walker) visit(node any, depth int) {
	if isNilNode(node) {
		return
	}
	if depth > maxWalkDepth {
		if !w.tooDeep {
			w.tooDeep = true
			w.failf(node, "chain deeper than %d nodes", maxWalkDepth)
		}
		return
	}
	root, next := depth == 0, depth+1
	if key, ok := nodeKey(node); ok {
		if w.visited[key] {
			return
		}
		w.visited[key] = true
	}

	if r, ok := node.(stream.Receiver); ok {
		w.visit(r.Upstream(), next)
	}
	if p, ok := node.(stream.Producer); ok {
		d := p.Downstream()
		if root && isNilNode(d) {
			w.failf(node, "downstream is nil")
		}
		w.visit(d, next)
	}
	if mr, ok := node.(stream.MultiReceiver); ok {
		ups := mr.Upstreams()
		if n := mr.UpstreamCount(); n != len(ups) {
			w.failf(node, "upstream count %d, %d upstreams", n, len(ups))
		}
		for _, u := range ups {
			w.visit(u, next)
		}
	}
	if mp, ok := node.(stream.MultiProducer); ok {
		downs := mp.Downstreams()
		if n := mp.DownstreamCount(); n != len(downs) {
			w.failf(node, "downstream count %d, %d downstreams", n, len(downs))
		}
		if mp.HasDownstreams() != (len(downs) > 0) {
			w.failf(node, "HasDownstreams is %t with %d downstreams", mp.HasDownstreams(), len(downs))
		}
		for _, d := range downs {
			w.visit(d, next)
		}
	}
	if lb, ok := node.(stream.Loopback); ok {
		in := lb.ConnectedInput()
		if isNilNode(in) {
			w.failf(node, "loopback input is nil")
		}
		w.visit(in, next)
		w.visit(lb.ConnectedOutput(), next)
	}
	if t, ok := node.(stream.Trackable); ok {
		w.track(node, t)
	}
	if p, ok := node.(stream.Prefetcher); ok {
		if n := p.Prefetch(); n < 0 && int64(n) != stream.Unspecified {
			w.failf(node, "prefetch %d", n)
		}
	}
}

func (w *walker) track(node any, t stream.Trackable) {
	values := []struct {
		name string
		v    int64
	}{
		{"requestedFromDownstream", t.RequestedFromDownstream()},
		{"expectedFromUpstream", t.ExpectedFromUpstream()},
		{"pending", t.Pending()},
		{"capacity", t.Capacity()},
		{"limit", t.Limit()},
	}
	for _, val := range values {
		if val.v < 0 && val.v != stream.Unspecified {
			w.failf(node, "%s is %d", val.name, val.v)
		}
	}
	if c, l := t.Capacity(), t.Limit(); c != stream.Unspecified && l != stream.Unspecified && l > c {
		w.failf(node, "limit %d exceeds capacity %d", l, c)
	}
	if t.IsStarted() && t.IsTerminated() {
		w.failf(node, "both started and terminated")
	}
	_ = t.Err()
	_ = t.IsCancelled()
}

type visitKey struct {
	typ reflect.Type
	ptr uintptr
	val any
}

// nodeKey identifies reference nodes by address and comparable value nodes
// by value. Other nodes have no identity and are visited every time they are
// reached.
func nodeKey(node any) (visitKey, bool) {
	v := reflect.ValueOf(node)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return visitKey{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if v.Comparable() {
		return visitKey{typ: v.Type(), val: node}, true
	}
	return visitKey{}, false
}

func isNilNode(node any) bool {
	if node == nil {
		return true
	}
	v := reflect.ValueOf(node)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}
	return false
}
