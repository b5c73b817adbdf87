// Package flux is a small reference implementation of the stream contracts.
//
// It exists so that the conformance harness can be exercised end to end: it
// provides the synthetic sources the probes subscribe to (Empty, Just,
// Generate, Unicast, TestPublisher, ErrorOnPoll), the wrapping operators the
// probes compose around a transformation (Hide, Filter, Peek), a couple of
// transformations to certify (Map, GroupBy) and small consumers (Subscribe,
// BlockFirst).
//
// ARCHITECTURE:
//
// No operator starts a goroutine. Signals are delivered on the caller's
// goroutine and every operator that buffers uses the work-in-progress drain
// loop: the goroutine that moves wip from 0 to 1 owns the drain, any other
// caller (including a reentrant call from a downstream Request) only bumps
// wip and lets the owner loop again. This keeps delivery serialized without
// locks around user callbacks.
//
// Fusion:
//   - Just, Generate and FromIterable grant SYNC.
//   - Empty and Unicast grant ASYNC. Unicast tolerates THREAD_BARRIER.
//   - Map, Filter and ErrorOnPoll forward negotiation upstream; Map and
//     Filter refuse THREAD_BARRIER because their callbacks would run on the
//     polling side.
//   - GroupBy fuses with its upstream (ANY) and offers ASYNC downstream.
package flux
