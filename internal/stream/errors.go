package stream

import "errors"

var (
	// ErrNilValue is returned when a callback produced a nil value where an
	// item was required.
	ErrNilValue = errors.New("stream: nil value")

	// ErrIllegalState is returned when a signal violates the protocol, such
	// as a second subscriber on a single-subscriber source.
	ErrIllegalState = errors.New("stream: illegal state")

	// ErrOverflow is returned when an item could not be delivered for lack
	// of demand.
	ErrOverflow = errors.New("stream: overflow, not enough demand")
)

// IsProtocolError reports whether err is one of the error kinds an operator
// may legitimately substitute for an upstream error: a null check or an
// illegal state.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrNilValue) || errors.Is(err, ErrIllegalState)
}
