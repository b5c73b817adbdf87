package harness

import (
	"fmt"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/streamcert/internal/stream"
	"github.com/roach88/streamcert/internal/verify"
)

// MatchCallbackError accepts the error a failing user callback surfaces:
// either its own message, exactly, or a protocol error (nil value or illegal
// state) that an operator substituted for it.
func MatchCallbackError(msg string) func(error) error {
	return func(err error) error {
		if stream.IsProtocolError(err) || err.Error() == msg {
			return nil
		}
		return &verify.AssertionError{
			Type:     "expectError",
			Expected: fmt.Sprintf("error %q or a protocol error", msg),
			Actual:   err.Error(),
		}
	}
}

// MatchErrorMessage accepts only an error whose message is exactly msg.
func MatchErrorMessage(msg string) func(error) error {
	return func(err error) error {
		if err.Error() == msg {
			return nil
		}
		return &verify.AssertionError{
			Type:     "expectErrorMessage",
			Expected: msg,
			Actual:   err.Error(),
		}
	}
}

// Equal returns an item assertion comparing with want, for ReceiveAssert.
func Equal[O any](want O) func(O) error {
	return func(got O) error {
		if cmp.Equal(want, got, exportAll) {
			return nil
		}
		return fmt.Errorf("item mismatch (-want +got):\n%s", cmp.Diff(want, got, exportAll))
	}
}
