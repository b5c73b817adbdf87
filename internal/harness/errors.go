package harness

import (
	"errors"
	"fmt"
)

// CheckError reports a failed conformance check.
//
// Check errors include:
//   - Invalid scenario: the scenario is misconfigured, no probe ran
//   - Probe failed: a verification script did not hold
//   - Drop hook: a signal after termination did not reach the drop hooks
//   - Introspection: a node exposed inconsistent capability values
//   - Fusion: a fusion negotiation returned an unexpected mode
//   - State: lifecycle state before or after termination is wrong
type CheckError struct {
	// Code identifies the error category.
	Code CheckErrorCode

	// Message is a human-readable description.
	Message string

	// Check, Scenario and Probe locate the failure when known.
	Check    string
	Scenario string
	Probe    string

	// Err is the underlying cause, typically a *verify.AssertionError.
	Err error
}

// CheckErrorCode categorizes check errors.
type CheckErrorCode string

const (
	// ErrCodeInvalidScenario indicates a scenario misconfiguration.
	ErrCodeInvalidScenario CheckErrorCode = "INVALID_SCENARIO"

	// ErrCodeProbeFailed indicates a verification script failure.
	ErrCodeProbeFailed CheckErrorCode = "PROBE_FAILED"

	// ErrCodeDropHook indicates a missing or unexpected drop hook firing.
	ErrCodeDropHook CheckErrorCode = "DROP_HOOK"

	// ErrCodeIntrospection indicates inconsistent introspection values.
	ErrCodeIntrospection CheckErrorCode = "INTROSPECTION"

	// ErrCodeFusion indicates an unexpected fusion negotiation result.
	ErrCodeFusion CheckErrorCode = "FUSION"

	// ErrCodeState indicates a wrong lifecycle state.
	ErrCodeState CheckErrorCode = "STATE"

	// ErrCodeInvalidOptions indicates unusable run options.
	ErrCodeInvalidOptions CheckErrorCode = "INVALID_OPTIONS"
)

// Error implements the error interface.
func (e *CheckError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	switch {
	case e.Probe != "":
		return fmt.Sprintf("%s: %s (check=%s, scenario=%q, probe=%s)", e.Code, msg, e.Check, e.Scenario, e.Probe)
	case e.Scenario != "":
		return fmt.Sprintf("%s: %s (check=%s, scenario=%q)", e.Code, msg, e.Check, e.Scenario)
	default:
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
}

// Unwrap returns the underlying cause.
func (e *CheckError) Unwrap() error { return e.Err }

func hasCode(err error, code CheckErrorCode) bool {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsScenarioError returns true if the error reports a misconfigured scenario.
func IsScenarioError(err error) bool { return hasCode(err, ErrCodeInvalidScenario) }

// IsProbeError returns true if the error reports a failed verification.
func IsProbeError(err error) bool { return hasCode(err, ErrCodeProbeFailed) }

// IsDropHookError returns true if the error reports a drop hook mismatch.
func IsDropHookError(err error) bool { return hasCode(err, ErrCodeDropHook) }

// IsIntrospectionError returns true if the error reports an introspection
// inconsistency.
func IsIntrospectionError(err error) bool { return hasCode(err, ErrCodeIntrospection) }

// IsFusionError returns true if the error reports a fusion mismatch.
func IsFusionError(err error) bool { return hasCode(err, ErrCodeFusion) }

// IsStateError returns true if the error reports a wrong lifecycle state.
func IsStateError(err error) bool { return hasCode(err, ErrCodeState) }

// IsOptionsError returns true if the error reports unusable options.
func IsOptionsError(err error) bool { return hasCode(err, ErrCodeInvalidOptions) }

// newCheckError creates a CheckError with a formatted message.
func newCheckError(code CheckErrorCode, format string, args ...any) *CheckError {
	return &CheckError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapCheckError classifies err under code unless it already is a CheckError.
func wrapCheckError(code CheckErrorCode, msg string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CheckError
	if errors.As(err, &ce) {
		return err
	}
	return &CheckError{Code: code, Message: msg, Err: err}
}
