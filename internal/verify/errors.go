package verify

import (
	"errors"
	"fmt"
	"strings"
)

// AssertionError is returned when verification fails.
// It names the failing step and carries the signal trace for context.
type AssertionError struct {
	Type     string   // Step or rule that failed, e.g. "expectNext", "protocol"
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Every signal recorded, in arrival order
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "expectation %q failed\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "signals:\n")
		for i, s := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, s)
		}
	}
	return buf.String()
}

// IsAssertionError reports whether err is or wraps an *AssertionError.
func IsAssertionError(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

// AsAssertionError extracts the *AssertionError from err, if any.
func AsAssertionError(err error) (*AssertionError, bool) {
	var ae *AssertionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
