package stream

import "log/slog"

// Hooks observe signals that arrive after a subscriber already terminated.
// A nil callback ignores the corresponding signal.
type Hooks struct {
	OnNextDropped  func(v any)
	OnErrorDropped func(err error)
}

// HooksCarrier is implemented by subscribers that carry drop hooks. Operator
// subscribers forward the hooks of their downstream.
type HooksCarrier interface {
	Hooks() *Hooks
}

// HooksOf returns the hooks carried by s, or nil.
func HooksOf(s any) *Hooks {
	if c, ok := s.(HooksCarrier); ok {
		return c.Hooks()
	}
	return nil
}

// NextDropped reports an item received after termination by the subscriber
// whose downstream is s.
func NextDropped(s any, v any) {
	if h := HooksOf(s); h != nil && h.OnNextDropped != nil {
		h.OnNextDropped(v)
		return
	}
	slog.Debug("next dropped after terminal signal", "value", v)
}

// ErrorDropped reports an error received after termination by the subscriber
// whose downstream is s.
func ErrorDropped(s any, err error) {
	if h := HooksOf(s); h != nil && h.OnErrorDropped != nil {
		h.OnErrorDropped(err)
		return
	}
	slog.Debug("error dropped after terminal signal", "error", err)
}
