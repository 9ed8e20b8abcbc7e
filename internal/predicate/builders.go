package predicate

import (
	"reflect"
	"slices"
	"sort"
)

// columnName resolves a Column argument to its (possibly qualified) name.
func columnName[C Column](c C) string {
	if r, ok := any(c).(Ref); ok {
		return r.String()
	}
	return reflect.ValueOf(c).String()
}

// isColumnShaped reports whether c names a qualified column.
func isColumnShaped[C Column](c C) bool {
	if _, ok := any(c).(Ref); ok {
		return true
	}
	return IsQualified(reflect.ValueOf(c).String())
}

// columnValue reports whether v is shaped like a qualified column.
func columnValue(v any) (string, bool) {
	switch val := v.(type) {
	case Ref:
		return val.String(), true
	case string:
		if IsQualified(val) {
			return val, true
		}
	}
	return "", false
}

// compare builds a Comparison, tagging it as a column-to-column comparison
// when both operands are qualified column-shaped. A dotted literal such as
// "v1.2" that happens to look qualified is therefore treated as a column
// when the left operand is qualified too.
func compare[C Column](op Op, col C, value any) Predicate {
	name := columnName(col)
	if isColumnShaped(col) {
		if other, ok := columnValue(value); ok {
			return Comparison{Op: op, Column: name, Value: other, ValueType: ValueColumn}
		}
	}
	if r, ok := value.(Ref); ok {
		// A Ref on the right of a bare column still compares columns.
		return Comparison{Op: op, Column: name, Value: r.String(), ValueType: ValueColumn}
	}
	return Comparison{Op: op, Column: name, Value: value, ValueType: ValueLiteral}
}

// Eq tests column = value.
func Eq[C Column](col C, value any) Predicate { return compare(OpEq, col, value) }

// Ne tests column <> value.
func Ne[C Column](col C, value any) Predicate { return compare(OpNe, col, value) }

// Gt tests column > value.
func Gt[C Column](col C, value any) Predicate { return compare(OpGt, col, value) }

// Gte tests column >= value.
func Gte[C Column](col C, value any) Predicate { return compare(OpGte, col, value) }

// Lt tests column < value.
func Lt[C Column](col C, value any) Predicate { return compare(OpLt, col, value) }

// Lte tests column <= value.
func Lte[C Column](col C, value any) Predicate { return compare(OpLte, col, value) }

// Like tests column LIKE pattern.
func Like[C Column](col C, pattern string) Predicate {
	return Comparison{Op: OpLike, Column: columnName(col), Value: pattern, ValueType: ValueLiteral}
}

// ILike tests column LIKE pattern, ignoring case.
func ILike[C Column](col C, pattern string) Predicate {
	return Comparison{Op: OpILike, Column: columnName(col), Value: pattern, ValueType: ValueLiteral}
}

func toAnySlice[V any](values []V) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// InList tests column IN (values...). An empty list matches no row.
func InList[C Column, V any](col C, values []V) Predicate {
	return Comparison{Op: OpIn, Column: columnName(col), Value: toAnySlice(values), ValueType: ValueLiteral}
}

// NotInList tests column NOT IN (values...). An empty list matches every row.
func NotInList[C Column, V any](col C, values []V) Predicate {
	return Comparison{Op: OpNotIn, Column: columnName(col), Value: toAnySlice(values), ValueType: ValueLiteral}
}

// BetweenValues tests lower <= column <= upper.
func BetweenValues[C Column](col C, lower, upper any) Predicate {
	return Between{Column: columnName(col), Lower: lower, Upper: upper}
}

// IsNull tests column IS NULL.
func IsNull[C Column](col C) Predicate {
	return Null{Op: OpIsNull, Column: columnName(col)}
}

// NotNull tests column IS NOT NULL.
func NotNull[C Column](col C) Predicate {
	return Null{Op: OpNotNull, Column: columnName(col)}
}

func logical(op LogicalOp, preds []Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return Logical{Op: op, Predicates: out}
}

// And holds when every child holds. And() is always true.
func And(preds ...Predicate) Predicate { return logical(OpAnd, preds) }

// Or holds when any child holds. Or() is always false.
func Or(preds ...Predicate) Predicate { return logical(OpOr, preds) }

// NormalizeWhere converts the shorthand form into And(Eq(col, value), ...).
// Keys are visited in sorted order so the result is deterministic.
func NormalizeWhere(w Where) Predicate {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		preds = append(preds, Eq(k, w[k]))
	}
	return And(preds...)
}

// Normalize rewrites every Where shorthand inside p into its And form.
// Other variants are returned unchanged.
func Normalize(p Predicate) Predicate {
	switch pred := p.(type) {
	case Where:
		return NormalizeWhere(pred)
	case Logical:
		children := make([]Predicate, len(pred.Predicates))
		for i, c := range pred.Predicates {
			children[i] = Normalize(c)
		}
		return Logical{Op: pred.Op, Predicates: children}
	default:
		return p
	}
}

// Columns lists the columns referenced by p, in first-seen order, including
// the right-hand side of column-to-column comparisons.
func Columns(p Predicate) []string {
	var out []string
	add := func(c string) {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Comparison:
			add(pred.Column)
			if pred.ValueType == ValueColumn {
				if s, ok := pred.Value.(string); ok {
					add(s)
				}
			}
		case Between:
			add(pred.Column)
		case Null:
			add(pred.Column)
		case Logical:
			for _, c := range pred.Predicates {
				walk(c)
			}
		case Where:
			walk(NormalizeWhere(pred))
		}
	}
	walk(p)
	return out
}
