// Package schema defines the column value validator interface consumed by
// tables, together with a small set of built-in validators.
//
// A Schema validates and coerces one value destined for a column:
//
//	res := schema.Int().Min(1).Parse(int32(7))
//	res.OK()    // true
//	res.Value   // int64(7)
//
// Any type with a Parse method can serve as a column schema; the engine never
// inspects values beyond what Parse returns.
package schema

import (
	"github.com/roach88/datatable/internal/dberr"
)

// Issue is one problem found while parsing a value.
type Issue = dberr.Issue

// Result is the outcome of parsing a value.
// An empty Issues list means the parse succeeded and Value holds the
// coerced value.
type Result struct {
	Value  any
	Issues []Issue
}

// OK reports whether the parse succeeded.
func (r Result) OK() bool {
	return len(r.Issues) == 0
}

// Ok returns a successful Result.
func Ok(v any) Result {
	return Result{Value: v}
}

// Fail returns a failed Result with a single issue.
func Fail(message string) Result {
	return Result{Issues: []Issue{{Message: message}}}
}

// Schema validates and coerces values for one column.
type Schema interface {
	Parse(value any) Result
}

// Type names the storage class of a built-in schema.
type Type string

const (
	TypeAny    Type = "any"
	TypeString Type = "string"
	TypeInt    Type = "int"
	TypeFloat  Type = "float"
	TypeBool   Type = "bool"
	TypeTime   Type = "time"
	TypeJSON   Type = "json"
)

// Typed is implemented by schemas that know their storage class.
type Typed interface {
	Type() Type
}

// TypeOf returns the storage class of s, or TypeAny when s does not report one.
func TypeOf(s Schema) Type {
	if t, ok := s.(Typed); ok {
		return t.Type()
	}
	return TypeAny
}

// Func adapts a plain function to the Schema interface.
// A non-nil error fails the parse with the error's message.
type Func func(value any) (any, error)

// Parse implements Schema.
func (f Func) Parse(value any) Result {
	v, err := f(value)
	if err != nil {
		return Fail(err.Error())
	}
	return Ok(v)
}

type nullable struct {
	inner Schema
}

// Nullable accepts nil in addition to whatever inner accepts.
func Nullable(inner Schema) Schema {
	return nullable{inner: inner}
}

func (n nullable) Parse(value any) Result {
	if value == nil {
		return Ok(nil)
	}
	return n.inner.Parse(value)
}

func (n nullable) Type() Type { return TypeOf(n.inner) }

type anySchema struct{}

// Any accepts every value unchanged, including nil.
func Any() Schema { return anySchema{} }

func (anySchema) Parse(value any) Result { return Ok(value) }

func (anySchema) Type() Type { return TypeAny }
