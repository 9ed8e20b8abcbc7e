package memadapter

import (
	"fmt"

	"github.com/roach88/datatable/internal/predicate"
)

// scope is a row under evaluation. Columns are addressable both bare and
// qualified; a bare name resolves to the first table that declared it.
type scope map[string]any

func (s scope) add(table string, columns []string, row map[string]any) {
	for _, c := range columns {
		v := row[c]
		s[table+"."+c] = v
		if _, taken := s[c]; !taken {
			s[c] = v
		}
	}
}

func (s scope) lookup(col string) (any, error) {
	v, ok := s[col]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", col)
	}
	return v, nil
}

func (s scope) clone() scope {
	out := make(scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// matchAll reports whether every predicate holds.
func matchAll(preds []predicate.Predicate, s scope) (bool, error) {
	for _, p := range preds {
		ok, err := match(p, s)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(p predicate.Predicate, s scope) (bool, error) {
	switch pred := p.(type) {
	case predicate.Comparison:
		return matchComparison(pred, s)
	case predicate.Between:
		v, err := s.lookup(pred.Column)
		if err != nil || v == nil {
			return false, err
		}
		lo, lok := compareValues(v, pred.Lower)
		hi, hok := compareValues(v, pred.Upper)
		return lok && hok && lo >= 0 && hi <= 0, nil
	case predicate.Null:
		v, err := s.lookup(pred.Column)
		if err != nil {
			return false, err
		}
		if pred.Op == predicate.OpNotNull {
			return v != nil, nil
		}
		return v == nil, nil
	case predicate.Logical:
		if pred.Op == predicate.OpOr {
			for _, c := range pred.Predicates {
				ok, err := match(c, s)
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		}
		return matchAll(pred.Predicates, s)
	case predicate.Where:
		return match(predicate.NormalizeWhere(pred), s)
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func matchComparison(cmp predicate.Comparison, s scope) (bool, error) {
	v, err := s.lookup(cmp.Column)
	if err != nil {
		return false, err
	}

	want := cmp.Value
	if cmp.ValueType == predicate.ValueColumn {
		name, _ := cmp.Value.(string)
		if want, err = s.lookup(name); err != nil {
			return false, err
		}
	}

	switch cmp.Op {
	case predicate.OpEq:
		if want == nil && cmp.ValueType == predicate.ValueLiteral {
			return v == nil, nil
		}
		return equalValues(v, want), nil
	case predicate.OpNe:
		if want == nil && cmp.ValueType == predicate.ValueLiteral {
			return v != nil, nil
		}
		return v != nil && want != nil && !equalValues(v, want), nil
	case predicate.OpGt, predicate.OpGte, predicate.OpLt, predicate.OpLte:
		if v == nil || want == nil {
			return false, nil
		}
		c, ok := compareValues(v, want)
		if !ok {
			return false, nil
		}
		switch cmp.Op {
		case predicate.OpGt:
			return c > 0, nil
		case predicate.OpGte:
			return c >= 0, nil
		case predicate.OpLt:
			return c < 0, nil
		}
		return c <= 0, nil
	case predicate.OpIn, predicate.OpNotIn:
		list, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("%s on %s needs a list, got %T", cmp.Op, cmp.Column, want)
		}
		if len(list) == 0 {
			return cmp.Op == predicate.OpNotIn, nil
		}
		if v == nil {
			return false, nil
		}
		found := false
		for _, item := range list {
			if equalValues(v, item) {
				found = true
				break
			}
		}
		return found == (cmp.Op == predicate.OpIn), nil
	case predicate.OpLike:
		return like(v, want, false), nil
	case predicate.OpILike:
		return like(v, want, true), nil
	default:
		return false, fmt.Errorf("unknown comparison operator %q", cmp.Op)
	}
}
