package stream

// EmptySubscription ignores requests and cancellation.
var EmptySubscription Subscription = emptySubscription{}

// CancelledSubscription is a subscription that was cancelled before use.
var CancelledSubscription Subscription = cancelledSubscription{}

type emptySubscription struct{}

func (emptySubscription) Request(int64) {}
func (emptySubscription) Cancel()       {}

type cancelledSubscription struct{}

func (cancelledSubscription) Request(int64) {}
func (cancelledSubscription) Cancel()       {}
