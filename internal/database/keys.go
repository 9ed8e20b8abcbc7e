package database

import (
	"fmt"
	"strings"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/predicate"
)

// tupleKey renders the values of cols in row as a map key. Integer and
// float kinds that are numerically equal share a key, since adapters do not
// agree on numeric types. ok is false when a column is missing or nil.
func tupleKey(row adapter.Row, cols []string) (key string, ok bool) {
	var sb strings.Builder
	for i, c := range cols {
		v, present := row[c]
		if !present || v == nil {
			return "", false
		}
		if i > 0 {
			sb.WriteByte(0)
		}
		writeKeyPart(&sb, v)
	}
	return sb.String(), true
}

func writeKeyPart(sb *strings.Builder, v any) {
	switch n := v.(type) {
	case int:
		fmt.Fprintf(sb, "n:%d", n)
	case int32:
		fmt.Fprintf(sb, "n:%d", n)
	case int64:
		fmt.Fprintf(sb, "n:%d", n)
	case uint32:
		fmt.Fprintf(sb, "n:%d", n)
	case uint64:
		fmt.Fprintf(sb, "n:%d", n)
	case float64:
		if n == float64(int64(n)) {
			fmt.Fprintf(sb, "n:%d", int64(n))
		} else {
			fmt.Fprintf(sb, "f:%v", n)
		}
	case []byte:
		fmt.Fprintf(sb, "s:%s", n)
	case string:
		fmt.Fprintf(sb, "s:%s", n)
	default:
		fmt.Fprintf(sb, "%T:%v", v, v)
	}
}

// tuples collects the distinct key tuples of cols across rows, in
// first-seen order.
func tuples(rows []adapter.Row, cols []string) [][]any {
	seen := map[string]bool{}
	var out [][]any
	for _, r := range rows {
		k, ok := tupleKey(r, cols)
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		t := make([]any, len(cols))
		for i, c := range cols {
			t[i] = r[c]
		}
		out = append(out, t)
	}
	return out
}

// keyFilter matches rows whose cols equal one of the tuples: an IN list for
// a single column, an OR of ANDs for composite keys.
func keyFilter(cols []string, tuples [][]any) predicate.Predicate {
	if len(cols) == 1 {
		values := make([]any, len(tuples))
		for i, t := range tuples {
			values[i] = t[0]
		}
		return predicate.InList(cols[0], values)
	}
	alts := make([]predicate.Predicate, len(tuples))
	for i, t := range tuples {
		eqs := make([]predicate.Predicate, len(cols))
		for j, c := range cols {
			eqs[j] = predicate.Eq(c, t[j])
		}
		alts[i] = predicate.And(eqs...)
	}
	return predicate.Or(alts...)
}

// tupleRow builds a row holding only the key columns.
func tupleRow(cols []string, t []any) adapter.Row {
	row := make(adapter.Row, len(cols))
	for i, c := range cols {
		row[c] = t[i]
	}
	return row
}
