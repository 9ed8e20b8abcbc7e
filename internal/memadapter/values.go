package memadapter

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// numeric widens integer and float kinds so 1, int64(1) and 1.0 compare
// equal.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareValues orders two non-nil values. ok is false when the values are
// not comparable.
func compareValues(a, b any) (c int, ok bool) {
	if x, xok := numeric(a); xok {
		if y, yok := numeric(b); yok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, yok := b.(string); yok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, yok := b.(bool); yok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if y, yok := b.(time.Time); yok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// sortValue orders nil first and incomparable values by their formatted
// form so sorting stays total.
func sortValue(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compareValues(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// keyOf renders values into a map key, treating numerically equal values
// as the same key.
func keyOf(values ...any) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(0)
		}
		if n, ok := numeric(v); ok {
			fmt.Fprintf(&sb, "n:%v", n)
			continue
		}
		fmt.Fprintf(&sb, "%T:%v", v, v)
	}
	return sb.String()
}

var (
	likeMu    sync.Mutex
	likeCache = map[string]*regexp.Regexp{}
)

// likeRegexp translates a LIKE pattern: % matches any run, _ one rune.
func likeRegexp(pattern string) *regexp.Regexp {
	likeMu.Lock()
	defer likeMu.Unlock()
	if re, ok := likeCache[pattern]; ok {
		return re
	}
	var sb strings.Builder
	sb.WriteString(`(?s)^`)
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re := regexp.MustCompile(sb.String())
	likeCache[pattern] = re
	return re
}

func like(value, pattern any, fold bool) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	if fold {
		folder := cases.Fold()
		s = folder.String(s)
		p = folder.String(p)
	}
	return likeRegexp(p).MatchString(s)
}
