// Package harness provides conformance checks for stream transformations.
//
// A transformation is a function from a source publisher to a result
// publisher. The harness subscribes to it through many pipeline shapes
// (probes) and checks that it follows the protocol in each: demand,
// termination, cancellation, fusion negotiation, drop hooks and
// introspection.
//
// # Scenarios
//
// A Scenario is an immutable description of one configuration: the
// transformation, what the source produces, what the consumer should
// receive, the prefetch and fusion modes the transformation claims and which
// post-termination assertions apply. Scenarios are built from the suite
// defaults and specialised with With methods, each returning a copy:
//
//	b.Scenario(body).
//		WithPrefetch(256).
//		WithFusionMode(stream.Async).
//		WithDescription("group by key")
//
// # Checks
//
// Every check runs its scenario list through a plan of probes:
//
//   - assertPrePostState: lifecycle and introspection around a hand-driven subscription
//   - sequenceOfNextAndComplete: every item then completion
//   - sequenceOfNextWithCallbackError: a failing callback surfaces as an error
//   - errorOnSubscribe: an upstream error passes through, late signals are dropped
//   - cancelOnSubscribe: cancellation right after subscription is silent
//
// Probes that depend on fusion only run when the scenario claims the mode.
// Plan lists the probes of a check; Suite.Plan renders the whole run and
// AssertGoldenPlan pins it in a golden file.
//
// # Drop hooks
//
// Signals sent after termination must reach the drop hooks carried by the
// consumer. Each probe gets its own DropRecorder, so suites and scenarios
// may run concurrently (Options.Parallelism).
//
// # Usage
//
//	suite, err := harness.NewSuite(harness.Config[string, string]{
//		OperatorSuccess: func(b harness.Builder[string, string]) []harness.Scenario[string, string] {
//			return []harness.Scenario[string, string]{b.Scenario(identity)}
//		},
//	})
//	if err != nil {
//		t.Fatal(err)
//	}
//	suite.RunT(t)
package harness
