package adapter

import (
	"github.com/roach88/datatable/internal/predicate"
)

// StatementKind names a Statement variant.
type StatementKind string

const (
	KindSelect     StatementKind = "select"
	KindCount      StatementKind = "count"
	KindExists     StatementKind = "exists"
	KindInsert     StatementKind = "insert"
	KindInsertMany StatementKind = "insertMany"
	KindUpdate     StatementKind = "update"
	KindDelete     StatementKind = "delete"
	KindUpsert     StatementKind = "upsert"
	KindRaw        StatementKind = "raw"
)

// Statement is the unit of work handed to an adapter.
//
// This is a sealed interface - only types in this package implement it, so
// adapters and compilers can switch over it exhaustively. A statement
// carries exactly what a compiler needs and never any builder state.
type Statement interface {
	Kind() StatementKind
	statementNode()
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Column    string
	Direction Direction
}

// JoinKind is the join flavour.
type JoinKind string

const (
	InnerJoin JoinKind = "inner"
	LeftJoin  JoinKind = "left"
	RightJoin JoinKind = "right"
	FullJoin  JoinKind = "full"
)

// Join joins another table on the conjunction of On.
type Join struct {
	Kind  JoinKind
	Table string
	On    []predicate.Predicate
}

// Selection is one selected column. Column may be a bare name, a qualified
// name, or an expression such as "count(*)".
type Selection struct {
	Alias  string
	Column string
}

// Assignment binds a value to a column.
type Assignment struct {
	Column string
	Value  any
}

// Assignments is an ordered column → value list.
type Assignments []Assignment

// Columns returns the assigned column names in order.
func (a Assignments) Columns() []string {
	cols := make([]string, len(a))
	for i, as := range a {
		cols[i] = as.Column
	}
	return cols
}

// Get returns the value assigned to column.
func (a Assignments) Get(column string) (any, bool) {
	for _, as := range a {
		if as.Column == column {
			return as.Value, true
		}
	}
	return nil, false
}

// Select reads rows. A nil Columns list selects every column.
type Select struct {
	Table    string
	Columns  []Selection
	Distinct bool
	Joins    []Join
	Where    []predicate.Predicate
	GroupBy  []string
	Having   []predicate.Predicate
	OrderBy  []OrderBy
	Limit    *int
	Offset   *int
}

// Count counts the rows a select with the same clauses would return.
// Columns only matter when Distinct is set, where they decide which rows
// are duplicates.
type Count struct {
	Table    string
	Columns  []Selection
	Distinct bool
	Joins    []Join
	Where    []predicate.Predicate
	GroupBy  []string
	Having   []predicate.Predicate
}

// Exists reports whether such a select would return any row.
type Exists struct {
	Table    string
	Columns  []Selection
	Distinct bool
	Joins    []Join
	Where    []predicate.Predicate
	GroupBy  []string
	Having   []predicate.Predicate
}

// Insert writes one row. An empty Values list inserts default values.
type Insert struct {
	Table     string
	Values    Assignments
	Returning []string
}

// InsertMany writes several rows in one statement. The written column set is
// the union of every row's columns; missing columns are written as NULL.
type InsertMany struct {
	Table     string
	Rows      []Assignments
	Returning []string
}

// Update changes rows matching Where.
type Update struct {
	Table     string
	Set       Assignments
	Where     []predicate.Predicate
	Returning []string
}

// Delete removes rows matching Where.
type Delete struct {
	Table     string
	Where     []predicate.Predicate
	Returning []string
}

// Upsert inserts Values or, on a conflict over Conflict, updates the Update
// columns from the proposed row. An empty Update list does nothing on
// conflict.
type Upsert struct {
	Table     string
	Values    Assignments
	Conflict  []string
	Update    []string
	Returning []string
}

// Raw is a pre-built SQL statement with positional arguments.
type Raw struct {
	SQL  string
	Args []any
}

func (Select) Kind() StatementKind     { return KindSelect }
func (Count) Kind() StatementKind      { return KindCount }
func (Exists) Kind() StatementKind     { return KindExists }
func (Insert) Kind() StatementKind     { return KindInsert }
func (InsertMany) Kind() StatementKind { return KindInsertMany }
func (Update) Kind() StatementKind     { return KindUpdate }
func (Delete) Kind() StatementKind     { return KindDelete }
func (Upsert) Kind() StatementKind     { return KindUpsert }
func (Raw) Kind() StatementKind        { return KindRaw }

func (Select) statementNode()     {}
func (Count) statementNode()      {}
func (Exists) statementNode()     {}
func (Insert) statementNode()     {}
func (InsertMany) statementNode() {}
func (Update) statementNode()     {}
func (Delete) statementNode()     {}
func (Upsert) statementNode()     {}
func (Raw) statementNode()        {}
