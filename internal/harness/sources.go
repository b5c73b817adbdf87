package harness

import (
	"github.com/roach88/streamcert/internal/flux"
	"github.com/roach88/streamcert/internal/stream"
)

// FiniteSource returns the source configured by the scenario producer.
//
// Zero items is an empty publisher, one item a scalar, more an iterable; all
// of them are SYNC-fusable. An asynchronous producer is a Unicast preloaded
// with the items that never terminates.
func FiniteSource[I, O any](s Scenario[I, O]) stream.Publisher[I] {
	if s.producerAsync {
		u := flux.NewUnicast[I]()
		for i := 0; i < s.producerCount; i++ {
			u.OnNext(s.producerFn(i))
		}
		return u
	}
	switch s.producerCount {
	case 0:
		return flux.Empty[I]()
	case 1:
		return flux.Just(s.producerFn(0))
	default:
		return flux.Generate(s.producerCount, s.producerFn)
	}
}

// FeedUnicast subscribes u to the scenario source, so u receives the
// produced items and the terminal signal.
func FeedUnicast[I, O any](s Scenario[I, O], u *flux.Unicast[I]) {
	FiniteSource(s).Subscribe(u)
}

// FeedTestPublisher replays the scenario source into ts.
func FeedTestPublisher[I, O any](s Scenario[I, O], ts *flux.TestPublisher[I]) {
	flux.Subscribe(FiniteSource(s),
		func(v I) { ts.Next(v) },
		ts.Error,
		ts.Complete)
}

// item returns the i-th item of the default producer.
func (x *probeEnv[I, O]) item(i int) I {
	if x.itemFn != nil {
		return x.itemFn(i)
	}
	if fn := x.scenario.producerFn; fn != nil {
		return fn(i)
	}
	var zero I
	return zero
}
