package sqladapter

import (
	"errors"
	"slices"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
)

// returnsRows reports whether stmt produces a result set.
func returnsRows(stmt adapter.Statement) bool {
	switch s := stmt.(type) {
	case adapter.Select, adapter.Count, adapter.Exists:
		return true
	case adapter.Insert:
		return len(s.Returning) > 0
	case adapter.InsertMany:
		return len(s.Returning) > 0
	case adapter.Update:
		return len(s.Returning) > 0
	case adapter.Delete:
		return len(s.Returning) > 0
	case adapter.Upsert:
		return len(s.Returning) > 0
	case adapter.Raw:
		return rawReturnsRows(s.SQL)
	}
	return false
}

var rowKeywords = []string{"select", "with", "pragma", "values", "explain", "show"}

// rawReturnsRows guesses from the leading keyword and a RETURNING clause.
func rawReturnsRows(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range rowKeywords {
		if strings.HasPrefix(t, kw) {
			return true
		}
	}
	return strings.Contains(t, " returning ")
}

func isWrite(stmt adapter.Statement) bool {
	switch stmt.(type) {
	case adapter.Insert, adapter.InsertMany, adapter.Update, adapter.Delete, adapter.Upsert:
		return true
	}
	return false
}

func isInsert(stmt adapter.Statement) bool {
	switch stmt.(type) {
	case adapter.Insert, adapter.InsertMany, adapter.Upsert:
		return true
	}
	return false
}

// sqliteCoder matches modernc.org/sqlite errors, whose Code is the
// extended result code.
type sqliteCoder interface {
	Code() int
}

// PostgreSQL SQLSTATE codes for constraint violations (class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

type constraintKind struct {
	message string
	state   string
	codes   []sqlite3.ErrNoExtended
	text    []string
}

var constraintKinds = []constraintKind{
	{
		message: "unique constraint violated",
		state:   pgUniqueViolation,
		codes:   []sqlite3.ErrNoExtended{sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey},
		text:    []string{"UNIQUE constraint failed", "violates unique constraint"},
	},
	{
		message: "foreign key constraint violated",
		state:   pgForeignKeyViolation,
		codes:   []sqlite3.ErrNoExtended{sqlite3.ErrConstraintForeignKey},
		text:    []string{"FOREIGN KEY constraint failed", "violates foreign key constraint"},
	},
	{
		message: "check constraint violated",
		state:   pgCheckViolation,
		codes:   []sqlite3.ErrNoExtended{sqlite3.ErrConstraintCheck},
		text:    []string{"CHECK constraint failed", "violates check constraint"},
	},
	{
		message: "not null constraint violated",
		state:   pgNotNullViolation,
		codes:   []sqlite3.ErrNoExtended{sqlite3.ErrConstraintNotNull},
		text:    []string{"NOT NULL constraint failed", "violates not-null constraint"},
	},
}

// constraintMessage reports which constraint err violated, if any. Driver
// codes are checked first; the message text covers drivers that report
// only the primary result code.
func constraintMessage(err error) (string, bool) {
	var (
		state string
		code  sqlite3.ErrNoExtended = -1
	)
	var (
		pqErr      *pq.Error
		mattnErr   sqlite3.Error
		moderncErr sqliteCoder
	)
	switch {
	case errors.As(err, &pqErr):
		state = string(pqErr.Code)
	case errors.As(err, &mattnErr):
		code = mattnErr.ExtendedCode
	case errors.As(err, &moderncErr):
		code = sqlite3.ErrNoExtended(moderncErr.Code())
	}

	msg := err.Error()
	for _, k := range constraintKinds {
		if state == k.state || slices.Contains(k.codes, code) || containsAny(msg, k.text...) {
			return k.message, true
		}
	}
	return "", false
}

// classify turns a driver error into a ConstraintError or an AdapterError.
func (a *Adapter) classify(kind string, err error) error {
	if _, ok := dberr.As(err); ok {
		return err
	}
	if msg, ok := constraintMessage(err); ok {
		e := dberr.NewConstraintError(a.dialect.Name, msg, err)
		e.StatementKind = kind
		return e
	}
	return dberr.NewAdapterError(a.dialect.Name, kind, err)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
