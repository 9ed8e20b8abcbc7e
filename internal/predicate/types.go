package predicate

import (
	"regexp"

	"github.com/roach88/datatable/internal/schema"
)

// Predicate is a normalized boolean condition over one or more columns.
//
// This is a sealed interface - only types in this package implement it.
// Compilers and evaluators switch exhaustively over:
//   - Comparison: column <op> value, or column <op> column
//   - Between: column BETWEEN lower AND upper
//   - Null: column IS [NOT] NULL
//   - Logical: AND / OR over child predicates
//   - Where: shorthand column → value map; normalize with NormalizeWhere
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNotIn Op = "notIn"
	OpLike  Op = "like"
	OpILike Op = "ilike"
)

// ValueType says how Comparison.Value is interpreted.
type ValueType string

const (
	// ValueLiteral compares against a bound literal value.
	ValueLiteral ValueType = "value"

	// ValueColumn compares against another column; Value holds its name.
	ValueColumn ValueType = "column"
)

// Comparison compares a column with a literal value or another column.
//
// For OpIn and OpNotIn, Value is a []any (possibly empty).
// For ValueColumn comparisons, Value is the qualified column name string.
type Comparison struct {
	Op        Op
	Column    string
	Value     any
	ValueType ValueType
}

func (Comparison) predicateNode() {}

// Between holds when Lower <= column <= Upper.
type Between struct {
	Column string
	Lower  any
	Upper  any
}

func (Between) predicateNode() {}

// NullOp selects IS NULL or IS NOT NULL.
type NullOp string

const (
	OpIsNull  NullOp = "isNull"
	OpNotNull NullOp = "notNull"
)

// Null tests a column for NULL.
type Null struct {
	Op     NullOp
	Column string
}

func (Null) predicateNode() {}

// LogicalOp is AND or OR.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// Logical combines child predicates.
//
// An empty AND is vacuously true; an empty OR is vacuously false.
type Logical struct {
	Op         LogicalOp
	Predicates []Predicate
}

func (Logical) predicateNode() {}

// Where is the shorthand form {column: value, ...}. Every entry becomes an
// equality test, including nil values (which test for NULL). To ignore a
// filter, omit the key.
type Where map[string]any

func (Where) predicateNode() {}

// Ref is an addressable, table-qualified column reference.
type Ref struct {
	Table  string
	Name   string
	Schema schema.Schema
}

// String returns the qualified name "table.column".
func (r Ref) String() string {
	if r.Table == "" {
		return r.Name
	}
	return r.Table + "." + r.Name
}

// Column is accepted wherever a column is expected: a bare or qualified
// name, or a Ref.
type Column interface {
	~string | Ref
}

var qualifiedRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)

// IsQualified reports whether s has the shape identifier(.identifier)+.
func IsQualified(s string) bool {
	return qualifiedRe.MatchString(s)
}
