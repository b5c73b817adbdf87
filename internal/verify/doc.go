// Package verify drives a publisher through a scripted sequence of
// expectations and reports the first deviation.
//
// A Step is built with Create and a fluent script:
//
//	err := verify.Create(p, 2).
//	    ExpectNext("a", "b").
//	    ExpectNoNext().
//	    ThenRequest(1).
//	    ExpectNext("c").
//	    ExpectComplete().
//	    Verify(ctx)
//
// Verify subscribes, records every signal in arrival order and consumes the
// recording step by step. Waiting for a signal is bounded by the context
// deadline (WithTimeout when the context has none). Failures are returned as
// *AssertionError carrying the recorded signal trace.
//
// The recording subscriber also polices the protocol: an item delivered
// without outstanding demand, a second terminal signal, or any signal after
// cancellation fails verification even if the script itself matched.
//
// Fusion: ExpectFusion negotiates with a QueueSubscription inside
// OnSubscribe. In SYNC mode the whole sequence is polled there and no demand
// is ever requested. In ASYNC mode each OnNext only means "poll now".
package verify
