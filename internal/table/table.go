// Package table declares tables, their columns and primary keys, and the
// typed relations between them.
//
// Tables and relations are built once at startup and never change:
//
//	accounts := table.MustNew("accounts", []table.ColumnDef{
//		table.Column("id", schema.Int()),
//		table.Column("name", schema.String()),
//	})
//	projects := table.MustNew("projects", []table.ColumnDef{
//		table.Column("id", schema.Int()),
//		table.Column("account_id", schema.Int()),
//	})
//	accountProjects := table.Must(accounts.HasMany(projects))
//
// Every column is also exposed as a predicate.Ref through Table.C, so
// predicates can be written against qualified references instead of loose
// strings.
package table

import (
	"fmt"
	"slices"

	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/schema"
)

// ColumnDef is one declared column.
type ColumnDef struct {
	Name   string
	Schema schema.Schema
}

// Column declares a column. A nil schema accepts any value.
func Column(name string, s schema.Schema) ColumnDef {
	if s == nil {
		s = schema.Any()
	}
	return ColumnDef{Name: name, Schema: s}
}

// Option configures a table.
type Option func(*Table)

// WithPrimaryKey sets the primary key columns.
func WithPrimaryKey(cols ...string) Option {
	return func(t *Table) {
		t.primaryKey = slices.Clone(cols)
	}
}

// WithTimestamps names the columns filled with the current time on insert
// (created) and on insert and update (updated). Either may be empty.
func WithTimestamps(created, updated string) Option {
	return func(t *Table) {
		t.createdAt = created
		t.updatedAt = updated
	}
}

// Table is an immutable table definition.
type Table struct {
	name       string
	columns    []ColumnDef
	index      map[string]int
	primaryKey []string
	createdAt  string
	updatedAt  string
}

// New validates and builds a table.
//
// The primary key defaults to ["id"] when no WithPrimaryKey option is given;
// in that case an "id" column must exist.
func New(name string, columns []ColumnDef, opts ...Option) (*Table, error) {
	if name == "" {
		return nil, dberr.NewQueryError("table name is empty")
	}
	t := &Table{
		name:    name,
		columns: slices.Clone(columns),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range t.columns {
		if c.Name == "" {
			return nil, tableError(name, "column %d has an empty name", i)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, tableError(name, "duplicate column %q", c.Name)
		}
		if c.Schema == nil {
			t.columns[i].Schema = schema.Any()
		}
		t.index[c.Name] = i
	}
	for _, opt := range opts {
		opt(t)
	}

	if len(t.primaryKey) == 0 {
		if !t.HasColumn("id") {
			return nil, tableError(name, "no primary key given and no id column")
		}
		t.primaryKey = []string{"id"}
	}
	for _, pk := range t.primaryKey {
		if !t.HasColumn(pk) {
			return nil, tableError(name, "primary key column %q does not exist", pk)
		}
	}
	for _, ts := range []string{t.createdAt, t.updatedAt} {
		if ts != "" && !t.HasColumn(ts) {
			return nil, tableError(name, "timestamp column %q does not exist", ts)
		}
	}
	return t, nil
}

// MustNew is like New but panics on error. Intended for package-level
// declarations.
func MustNew(name string, columns []ColumnDef, opts ...Option) *Table {
	return Must(New(name, columns, opts...))
}

// Must panics if err is non-nil.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func tableError(table, format string, args ...any) *dberr.Error {
	err := dberr.NewQueryError(format, args...)
	err.Table = table
	return err
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Columns returns the column names in declaration order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// HasColumn reports whether the table declares col.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Schema returns the schema of col.
func (t *Table) Schema(col string) (schema.Schema, bool) {
	i, ok := t.index[col]
	if !ok {
		return nil, false
	}
	return t.columns[i].Schema, true
}

// PrimaryKey returns the primary key columns.
func (t *Table) PrimaryKey() []string { return slices.Clone(t.primaryKey) }

// Timestamps returns the created and updated timestamp columns; either may
// be empty.
func (t *Table) Timestamps() (created, updated string) {
	return t.createdAt, t.updatedAt
}

// Lookup returns the reference for col.
func (t *Table) Lookup(col string) (predicate.Ref, bool) {
	i, ok := t.index[col]
	if !ok {
		return predicate.Ref{}, false
	}
	return predicate.Ref{Table: t.name, Name: col, Schema: t.columns[i].Schema}, true
}

// C returns the reference for col. It panics if the column does not exist.
func (t *Table) C(col string) predicate.Ref {
	ref, ok := t.Lookup(col)
	if !ok {
		panic(fmt.Sprintf("table %s has no column %q", t.name, col))
	}
	return ref
}

// Refs returns a reference for every column in declaration order.
func (t *Table) Refs() []predicate.Ref {
	out := make([]predicate.Ref, len(t.columns))
	for i, c := range t.columns {
		out[i] = predicate.Ref{Table: t.name, Name: c.Name, Schema: c.Schema}
	}
	return out
}

func (t *Table) String() string { return t.name }
