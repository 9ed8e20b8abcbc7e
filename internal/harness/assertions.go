package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/predicate"
)

// AssertionError is returned when an expectation or assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func mismatch(typ string, expected, actual any) *AssertionError {
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", normalize(expected)),
		Actual:   fmt.Sprintf("%v", normalize(actual)),
	}
}

func checkExpect(e *Expect, o outcome) error {
	if e.Error != "" {
		return &AssertionError{Type: "error", Expected: e.Error, Actual: "success"}
	}
	if e.None {
		if (o.isRow && o.row != nil) || len(o.rows) > 0 {
			return mismatch("none", "no rows", o.result)
		}
	}
	if e.Rows != nil {
		if len(e.Rows) != len(o.rows) {
			return mismatch("rows", e.Rows, o.rows)
		}
		for i := range e.Rows {
			if !matchRow(e.Rows[i], o.rows[i]) {
				return mismatch(fmt.Sprintf("rows[%d]", i), e.Rows[i], o.rows[i])
			}
		}
	}
	if e.Row != nil && (o.row == nil || !matchRow(e.Row, o.row)) {
		return mismatch("row", e.Row, o.row)
	}
	if e.Count != nil && (o.count == nil || *o.count != *e.Count) {
		return mismatch("count", *e.Count, o.result)
	}
	if e.Exists != nil && (o.exists == nil || *o.exists != *e.Exists) {
		return mismatch("exists", *e.Exists, o.result)
	}
	if e.Affected != nil && (o.affected == nil || *o.affected != *e.Affected) {
		var got any
		if o.affected != nil {
			got = *o.affected
		}
		return mismatch("affected", *e.Affected, got)
	}
	return nil
}

// evaluate checks one final-state assertion.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	t, ok := h.catalog.Table(a.Table)
	if !ok {
		return fmt.Errorf("unknown table %q", a.Table)
	}
	q := h.db.Query(t)
	if len(a.Where) > 0 {
		q = q.Where(predicate.Where(a.Where))
	}

	switch a.Type {
	case AssertRowCount:
		n, err := q.Count(ctx)
		if err != nil {
			return err
		}
		if n != *a.Count {
			return mismatch(AssertRowCount, *a.Count, n)
		}
	case AssertFinalState:
		rows, err := q.All(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &AssertionError{Type: AssertFinalState, Expected: fmt.Sprintf("rows matching %v", a.Where), Actual: "none"}
		}
		for _, r := range rows {
			if !matchRow(a.Expect, r) {
				return mismatch(AssertFinalState, a.Expect, r)
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// matchRow reports whether every column in expected matches actual.
func matchRow(expected map[string]any, actual adapter.Row) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !matchValue(want, got) {
			return false
		}
	}
	return true
}

// matchValue compares after normalization. Maps match as subsets, lists
// element-wise, numbers by value.
func matchValue(expected, actual any) bool {
	want, got := normalize(expected), normalize(actual)
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		return matchRow(w, g)
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(w[i], g[i]) {
				return false
			}
		}
		return true
	}
	if wn, ok := number(want); ok {
		gn, ok := number(got)
		return ok && wn == gn
	}
	return want == got
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// normalize converts values to a backend-independent form: integers become
// int64, byte slices strings, times RFC 3339 strings in UTC, rows and
// lists of rows generic maps and slices.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if x == nil {
			return nil
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []adapter.Row:
		out := make([]any, len(x))
		for i, r := range x {
			out[i] = normalize(r)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
