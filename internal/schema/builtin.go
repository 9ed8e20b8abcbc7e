package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"time"
)

func received(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// StringSchema accepts strings.
type StringSchema struct {
	min, max int
	oneOf    []string
	pattern  *regexp.Regexp
}

// String returns a schema accepting any string.
func String() StringSchema {
	return StringSchema{min: -1, max: -1}
}

// Min requires at least n characters.
func (s StringSchema) Min(n int) StringSchema { s.min = n; return s }

// Max allows at most n characters.
func (s StringSchema) Max(n int) StringSchema { s.max = n; return s }

// OneOf restricts the value to the given set.
func (s StringSchema) OneOf(values ...string) StringSchema {
	s.oneOf = slices.Clone(values)
	return s
}

// Match requires the value to match the regular expression.
// Panics if expr does not compile.
func (s StringSchema) Match(expr string) StringSchema {
	s.pattern = regexp.MustCompile(expr)
	return s
}

// Type implements Typed.
func (StringSchema) Type() Type { return TypeString }

// Parse implements Schema.
func (s StringSchema) Parse(value any) Result {
	str, ok := value.(string)
	if !ok {
		return Fail("expected string, received " + received(value))
	}
	n := len([]rune(str))
	if s.min >= 0 && n < s.min {
		return Fail(fmt.Sprintf("must contain at least %d characters", s.min))
	}
	if s.max >= 0 && n > s.max {
		return Fail(fmt.Sprintf("must contain at most %d characters", s.max))
	}
	if len(s.oneOf) > 0 && !slices.Contains(s.oneOf, str) {
		return Fail(fmt.Sprintf("must be one of %v", s.oneOf))
	}
	if s.pattern != nil && !s.pattern.MatchString(str) {
		return Fail("must match " + s.pattern.String())
	}
	return Ok(str)
}

// IntSchema accepts integers and integral floats, coerced to int64.
type IntSchema struct {
	min, max *int64
}

// Int returns a schema accepting any integer.
func Int() IntSchema { return IntSchema{} }

// Min requires the value to be >= n.
func (s IntSchema) Min(n int64) IntSchema { s.min = &n; return s }

// Max requires the value to be <= n.
func (s IntSchema) Max(n int64) IntSchema { s.max = &n; return s }

// Type implements Typed.
func (IntSchema) Type() Type { return TypeInt }

// Parse implements Schema.
func (s IntSchema) Parse(value any) Result {
	n, ok := toInt64(value)
	if !ok {
		return Fail("expected integer, received " + received(value))
	}
	if s.min != nil && n < *s.min {
		return Fail(fmt.Sprintf("must be >= %d", *s.min))
	}
	if s.max != nil && n > *s.max {
		return Fail(fmt.Sprintf("must be <= %d", *s.max))
	}
	return Ok(n)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return toInt64(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// FloatSchema accepts any number, coerced to float64.
type FloatSchema struct{}

// Float returns a schema accepting any number.
func Float() FloatSchema { return FloatSchema{} }

// Type implements Typed.
func (FloatSchema) Type() Type { return TypeFloat }

// Parse implements Schema.
func (FloatSchema) Parse(value any) Result {
	switch n := value.(type) {
	case float64:
		return Ok(n)
	case float32:
		return Ok(float64(n))
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return Fail("expected number, received " + string(n))
		}
		return Ok(f)
	}
	if i, ok := toInt64(value); ok {
		return Ok(float64(i))
	}
	return Fail("expected number, received " + received(value))
}

// BoolSchema accepts booleans.
type BoolSchema struct{}

// Bool returns a schema accepting booleans.
func Bool() BoolSchema { return BoolSchema{} }

// Type implements Typed.
func (BoolSchema) Type() Type { return TypeBool }

// Parse implements Schema.
func (BoolSchema) Parse(value any) Result {
	b, ok := value.(bool)
	if !ok {
		return Fail("expected boolean, received " + received(value))
	}
	return Ok(b)
}

// TimeSchema accepts time.Time values and RFC 3339 strings.
type TimeSchema struct{}

// Time returns a schema accepting timestamps.
func Time() TimeSchema { return TimeSchema{} }

// Type implements Typed.
func (TimeSchema) Type() Type { return TypeTime }

// Parse implements Schema.
func (TimeSchema) Parse(value any) Result {
	switch t := value.(type) {
	case time.Time:
		return Ok(t.UTC())
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return Fail("expected RFC 3339 timestamp, received " + t)
		}
		return Ok(parsed.UTC())
	}
	return Fail("expected timestamp, received " + received(value))
}

// JSONSchema accepts any JSON-encodable value and stores it as JSON text.
type JSONSchema struct{}

// JSON returns a schema that encodes values as JSON text.
func JSON() JSONSchema { return JSONSchema{} }

// Type implements Typed.
func (JSONSchema) Type() Type { return TypeJSON }

// Parse implements Schema.
func (JSONSchema) Parse(value any) Result {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return Fail("invalid JSON text")
		}
		return Ok(string(v))
	case nil:
		return Fail("expected JSON value, received null")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return Fail("not JSON encodable: " + err.Error())
	}
	return Ok(string(data))
}
