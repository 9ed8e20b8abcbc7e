// Package dberr defines the error taxonomy shared by the query runtime and
// the storage adapters.
//
// Every public call either succeeds or fails with exactly one *Error whose
// Kind is one of:
//   - KindValidation: a column value failed its schema's parse step
//   - KindQuery: a structurally invalid request (programming error)
//   - KindAdapter: the storage backend itself failed
//   - KindConstraint: a backend constraint violation, classified by an adapter
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes errors.
type Kind string

const (
	// KindValidation indicates a column value failed validation.
	KindValidation Kind = "VALIDATION"

	// KindQuery indicates a structurally invalid request.
	KindQuery Kind = "QUERY"

	// KindAdapter indicates the storage backend failed.
	KindAdapter Kind = "ADAPTER"

	// KindConstraint indicates a backend constraint violation.
	KindConstraint Kind = "CONSTRAINT"
)

// Issue is one problem reported by a column schema.
type Issue struct {
	Path    []string
	Message string
}

func (i Issue) String() string {
	if len(i.Path) == 0 {
		return i.Message
	}
	return strings.Join(i.Path, ".") + ": " + i.Message
}

// Error is the structured error returned by the engine.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Table and Column identify the offending column (validation errors).
	Table  string
	Column string

	// Issues is the validator's issue list (validation errors).
	Issues []Issue

	// Dialect and StatementKind describe the failed call (adapter errors).
	Dialect       string
	StatementKind string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	switch {
	case e.Table != "" && e.Column != "":
		fmt.Fprintf(&sb, " (column=%s.%s)", e.Table, e.Column)
	case e.Table != "":
		fmt.Fprintf(&sb, " (table=%s)", e.Table)
	}
	if e.StatementKind != "" {
		fmt.Fprintf(&sb, " (dialect=%s, statement=%s)", e.Dialect, e.StatementKind)
	}
	if len(e.Issues) > 0 {
		parts := make([]string, len(e.Issues))
		for i, is := range e.Issues {
			parts[i] = is.String()
		}
		fmt.Fprintf(&sb, ": %s", strings.Join(parts, "; "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates an error for a column value that failed to parse.
func NewValidationError(table, column string, issues []Issue) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "invalid column value",
		Table:   table,
		Column:  column,
		Issues:  issues,
	}
}

// NewQueryError creates an error for a structurally invalid request.
func NewQueryError(format string, args ...any) *Error {
	return &Error{
		Kind:    KindQuery,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewAdapterError wraps a failure of the storage backend.
func NewAdapterError(dialect, statementKind string, cause error) *Error {
	return &Error{
		Kind:          KindAdapter,
		Message:       "adapter call failed",
		Dialect:       dialect,
		StatementKind: statementKind,
		Cause:         cause,
	}
}

// NewConstraintError reports a backend constraint violation.
func NewConstraintError(dialect, message string, cause error) *Error {
	return &Error{
		Kind:    KindConstraint,
		Message: message,
		Dialect: dialect,
		Cause:   cause,
	}
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func isKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsQuery reports whether err is a query error.
func IsQuery(err error) bool { return isKind(err, KindQuery) }

// IsAdapter reports whether err is an adapter error.
func IsAdapter(err error) bool { return isKind(err, KindAdapter) }

// IsConstraint reports whether err is a constraint error.
func IsConstraint(err error) bool { return isKind(err, KindConstraint) }
