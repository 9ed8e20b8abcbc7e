package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the trace of a scenario for golden comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace renders a trace snapshot as indented JSON. Map keys are
// sorted, so equal traces render to equal bytes.
func MarshalTrace(name string, trace []TraceEvent) ([]byte, error) {
	return json.MarshalIndent(TraceSnapshot{ScenarioName: name, Trace: trace}, "", "  ")
}

// CompareTraces checks that every result passed and that all backends
// produced the same trace. It returns the shared trace rendering, or nil
// when no backend passed, plus one message per failure.
func CompareTraces(name string, results []*Result) ([]byte, []string) {
	var (
		reference  []byte
		refBackend string
		failures   []string
	)
	for _, res := range results {
		if !res.Pass {
			for _, e := range res.Errors {
				failures = append(failures, fmt.Sprintf("%s: %s", res.Backend, e))
			}
			continue
		}
		out, err := MarshalTrace(name, res.Trace)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: marshal trace: %v", res.Backend, err))
			continue
		}
		if reference == nil {
			reference, refBackend = out, res.Backend
			continue
		}
		if !bytes.Equal(out, reference) {
			failures = append(failures, fmt.Sprintf("%s: trace differs from %s:\n%s\nvs\n%s",
				res.Backend, refBackend, out, reference))
		}
	}
	return reference, failures
}

// RunWithGolden runs a scenario on all of its backends, requires every
// backend to pass with the same trace, and compares that trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	results, err := RunAll(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run %s: %v", scenario.Name, err)
	}

	trace, failures := CompareTraces(scenario.Name, results)
	for _, f := range failures {
		t.Errorf("%s: %s", scenario.Name, f)
	}
	if len(failures) > 0 || trace == nil {
		return
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, trace)
}
