package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConformance runs every scenario in testdata/scenarios on each of its
// backends and compares the shared trace against its golden file.
func TestConformance(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			RunWithGolden(t, s)
		})
	}
}

func TestMarshalTrace(t *testing.T) {
	affected := int64(1)
	out, err := MarshalTrace("demo", []TraceEvent{
		{Seq: 1, Op: "begin"},
		{Seq: 2, Depth: 1, Op: "insert", Table: "tags", Affected: &affected},
		{Seq: 3, Op: "query", Table: "tags", Result: []any{map[string]any{"label": "go", "id": int64(1)}}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{
  "scenario_name": "demo",
  "trace": [
    {
      "seq": 1,
      "op": "begin"
    },
    {
      "seq": 2,
      "depth": 1,
      "op": "insert",
      "table": "tags",
      "affected": 1
    },
    {
      "seq": 3,
      "op": "query",
      "table": "tags",
      "result": [
        {
          "id": 1,
          "label": "go"
        }
      ]
    }
  ]
}`, string(out))
}

func TestCompareTraces(t *testing.T) {
	one := []TraceEvent{{Seq: 1, Op: "count", Table: "tags", Result: int64(2)}}
	other := []TraceEvent{{Seq: 1, Op: "count", Table: "tags", Result: int64(3)}}

	pass := func(backend string, trace []TraceEvent) *Result {
		r := NewResult(backend)
		r.Trace = trace
		return r
	}

	trace, failures := CompareTraces("c", []*Result{pass("memory", one), pass("sqlite3", one)})
	assert.Empty(t, failures)
	assert.Contains(t, string(trace), `"result": 2`)

	_, failures = CompareTraces("c", []*Result{pass("memory", one), pass("sqlite3", other)})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "sqlite3: trace differs from memory")

	failed := NewResult("modernc")
	failed.AddError("steps[0] (count): boom")
	trace, failures = CompareTraces("c", []*Result{failed})
	assert.Nil(t, trace)
	assert.Equal(t, []string{"modernc: steps[0] (count): boom"}, failures)
}
