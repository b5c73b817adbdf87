// Package stream defines the contracts of a push-based, backpressure-aware
// stream runtime as seen by the conformance harness.
//
// This package contains interface and constant definitions only, plus a few
// small helpers that every implementation needs (demand arithmetic, no-op
// subscriptions, drop-hook lookup). It imports nothing internal.
//
// # Signals
//
// A Publisher emits to a Subscriber after handing it a Subscription. The
// subscriber signals numeric demand with Request and may Cancel at any time.
// At most one terminal signal (OnError or OnComplete) is delivered.
//
// # Fusion
//
// A Subscription may also implement QueueSubscription. A consumer that
// negotiates SYNC fusion drains the producer with Poll until it reports no
// more items, without ever calling Request. A consumer that negotiates ASYNC
// fusion drains with Poll every time OnNext is signalled; in that mode the
// value passed to OnNext carries no meaning.
//
// # Introspection
//
// Nodes may optionally expose their links and demand counters through the
// Receiver, Producer, MultiReceiver, MultiProducer, Loopback and Trackable
// capabilities. Absence of a capability is always legal. Values that a node
// does not track are reported as Unspecified.
//
// # Drop hooks
//
// Signals that reach an operator after it terminated are reported to the
// Hooks carried by the subscriber chain, not to process-wide state. See
// NextDropped and ErrorDropped.
package stream
