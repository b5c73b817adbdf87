package stream

// Unspecified is returned by introspection accessors for values a node does
// not track.
const Unspecified int64 = -1

// Receiver exposes the single upstream of a node.
type Receiver interface {
	Upstream() any
}

// Producer exposes the single downstream of a node.
type Producer interface {
	Downstream() any
}

// MultiReceiver exposes several upstreams (e.g. merging operators).
type MultiReceiver interface {
	Upstreams() []any
	UpstreamCount() int
}

// MultiProducer exposes several downstreams (e.g. groups of a grouping operator).
type MultiProducer interface {
	Downstreams() []any
	DownstreamCount() int
	HasDownstreams() bool
}

// Loopback exposes inner components that are not part of the main chain.
type Loopback interface {
	ConnectedInput() any
	ConnectedOutput() any
}

// Trackable exposes demand and lifecycle diagnostics.
// Numeric accessors return Unspecified when not tracked.
type Trackable interface {
	RequestedFromDownstream() int64
	ExpectedFromUpstream() int64
	Pending() int64
	Capacity() int64
	Limit() int64
	Err() error
	IsStarted() bool
	IsTerminated() bool
	IsCancelled() bool
}

// Prefetcher is implemented by publishers that request a fixed batch upstream.
type Prefetcher interface {
	Prefetch() int
}
