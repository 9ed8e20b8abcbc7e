package schema

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// CUESchema checks values against a CUE constraint after an optional base
// schema has coerced them.
//
//	age, _ := schema.CUE(schema.Int(), ">=0 & <=150")
//	email, _ := schema.CUE(schema.String(), `=~"^[^@]+@[^@]+$"`)
//
// The coerced value is returned unchanged when the constraint holds.
type CUESchema struct {
	base Schema
	expr string

	// A cue.Context and the values it creates are not safe for concurrent use.
	mu  sync.Mutex
	ctx *cue.Context
	v   cue.Value
}

// CUE compiles expr into a column schema. base may be nil, in which case
// values are passed to the constraint as-is.
func CUE(base Schema, expr string) (*CUESchema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(expr)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile constraint %q: %w", expr, err)
	}
	if base == nil {
		base = Any()
	}
	return &CUESchema{base: base, expr: expr, ctx: ctx, v: v}, nil
}

// MustCUE is like CUE but panics if expr does not compile.
func MustCUE(base Schema, expr string) *CUESchema {
	s, err := CUE(base, expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Expr returns the constraint source.
func (s *CUESchema) Expr() string { return s.expr }

// Type implements Typed.
func (s *CUESchema) Type() Type { return TypeOf(s.base) }

// Parse implements Schema.
func (s *CUESchema) Parse(value any) Result {
	res := s.base.Parse(value)
	if !res.OK() {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unified := s.v.Unify(s.ctx.Encode(res.Value))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Result{Issues: cueIssues(err)}
	}
	return res
}

func cueIssues(err error) []Issue {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return []Issue{{Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		issues = append(issues, Issue{
			Path:    e.Path(),
			Message: fmt.Sprintf(format, args...),
		})
	}
	return issues
}
