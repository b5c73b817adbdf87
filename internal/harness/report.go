package harness

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/streamcert/internal/verify"
)

// Failure is one failed probe, or one scenario that could not run.
type Failure struct {
	Seq      int64  `json:"seq"`
	Check    string `json:"check"`
	Scenario string `json:"scenario"`
	Probe    string `json:"probe,omitempty"`
	Error    string `json:"error"`

	err error
}

// Err returns the underlying error.
func (f Failure) Err() error { return f.err }

// Report is the outcome of a suite run.
type Report struct {
	// RunID identifies the run in logs.
	RunID string `json:"run_id"`

	// Pass is true when no probe failed.
	Pass bool `json:"pass"`

	Checks    int `json:"checks"`
	Scenarios int `json:"scenarios"`
	Probes    int `json:"probes"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`

	// Failures lists failed probes ordered by check, scenario and probe.
	Failures []Failure `json:"failures,omitempty"`

	mu sync.Mutex
}

// NewReport creates a new passing report.
func NewReport(runID string) *Report {
	return &Report{RunID: runID, Pass: true, Failures: []Failure{}}
}

func (r *Report) addScenario() {
	r.mu.Lock()
	r.Scenarios++
	r.mu.Unlock()
}

func (r *Report) addPass() {
	r.mu.Lock()
	r.Probes++
	r.Passed++
	r.mu.Unlock()
}

// AddFailure records a failure and marks the report as failed.
func (r *Report) AddFailure(f Failure) {
	if f.Error == "" && f.err != nil {
		f.Error = f.err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Probes++
	r.Failed++
	r.Pass = false
	r.Failures = append(r.Failures, f)
}

func (r *Report) sort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	slices.SortStableFunc(r.Failures, func(a, b Failure) int {
		return cmp.Or(
			cmp.Compare(a.Check, b.Check),
			cmp.Compare(a.Scenario, b.Scenario),
			cmp.Compare(a.Probe, b.Probe),
			cmp.Compare(a.Seq, b.Seq),
		)
	})
}

// Err joins the errors of every failure, or returns nil.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		if f.err != nil {
			errs = append(errs, f.err)
		} else {
			errs = append(errs, errors.New(f.Error))
		}
	}
	return errors.Join(errs...)
}

// String summarizes the report, one line per failure.
func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf strings.Builder
	status := "PASS"
	if !r.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(&buf, "%s run=%s checks=%d scenarios=%d probes=%d passed=%d failed=%d\n",
		status, r.RunID, r.Checks, r.Scenarios, r.Probes, r.Passed, r.Failed)
	for _, f := range r.Failures {
		if f.Probe != "" {
			fmt.Fprintf(&buf, "  %s / %s / %s: %s\n", f.Check, f.Scenario, f.Probe, f.summary())
		} else {
			fmt.Fprintf(&buf, "  %s / %s: %s\n", f.Check, f.Scenario, f.summary())
		}
	}
	return buf.String()
}

// summary is the first line of the error, plus the expected and actual
// outcome of a failed verification.
func (f Failure) summary() string {
	line := firstLine(f.Error)
	if ae, ok := verify.AsAssertionError(f.err); ok {
		line += fmt.Sprintf(" (expected %s, actual %s)", firstLine(ae.Expected), firstLine(ae.Actual))
	}
	return line
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
