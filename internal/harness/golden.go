package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Plan renders the probes every selected check runs per scenario, one line
// each, in execution order. Skipped probes are marked, misconfigured
// scenarios show their error instead of probes.
func (s *Suite[I, O]) Plan() string {
	var buf strings.Builder
	for _, c := range s.checks() {
		fmt.Fprintf(&buf, "%s\n", c)
		for i, sc := range s.Scenarios(c) {
			fmt.Fprintf(&buf, "  %s\n", norm.NFC.String(describe(sc, i)))
			if err := sc.Err(); err != nil {
				fmt.Fprintf(&buf, "    invalid: %v\n", err)
				continue
			}
			for _, p := range Plan(c, sc) {
				if s.cfg.Options.skips(p) {
					fmt.Fprintf(&buf, "    %s (skipped)\n", p)
					continue
				}
				fmt.Fprintf(&buf, "    %s\n", p)
			}
		}
	}
	return buf.String()
}

// reportSnapshot is the stable part of a Report.
type reportSnapshot struct {
	RunID     string    `yaml:"run_id"`
	Pass      bool      `yaml:"pass"`
	Checks    int       `yaml:"checks"`
	Scenarios int       `yaml:"scenarios"`
	Probes    int       `yaml:"probes"`
	Passed    int       `yaml:"passed"`
	Failed    int       `yaml:"failed"`
	Failures  []failure `yaml:"failures,omitempty"`
}

type failure struct {
	Check    string `yaml:"check"`
	Scenario string `yaml:"scenario"`
	Probe    string `yaml:"probe,omitempty"`
	Error    string `yaml:"error"`
}

// MarshalReport renders r as YAML. Failure sequence numbers are left out,
// they depend on scheduling when scenarios run in parallel.
func MarshalReport(r *Report) ([]byte, error) {
	r.mu.Lock()
	snap := reportSnapshot{
		RunID:     r.RunID,
		Pass:      r.Pass,
		Checks:    r.Checks,
		Scenarios: r.Scenarios,
		Probes:    r.Probes,
		Passed:    r.Passed,
		Failed:    r.Failed,
	}
	for _, f := range r.Failures {
		snap.Failures = append(snap.Failures, failure{
			Check:    f.Check,
			Scenario: f.Scenario,
			Probe:    f.Probe,
			Error:    firstLine(f.Error),
		})
	}
	r.mu.Unlock()
	return yaml.Marshal(snap)
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// AssertGoldenPlan compares the probe plan of s with the golden file
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/... -update
func AssertGoldenPlan[I, O any](t *testing.T, name string, s *Suite[I, O]) {
	t.Helper()
	newGoldie(t).Assert(t, name, []byte(s.Plan()))
}
