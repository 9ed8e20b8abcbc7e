package database

import (
	"slices"
	"strings"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/table"
)

type joined struct {
	kind  adapter.JoinKind
	table *table.Table
	on    []predicate.Predicate
}

// state is the builder snapshot. It is never modified once a builder holds
// it; every builder method patches a clone.
type state struct {
	columns  []adapter.Selection
	distinct bool
	joins    []joined
	where    []predicate.Predicate
	having   []predicate.Predicate
	groupBy  []string
	orderBy  []adapter.OrderBy
	limit    *int
	offset   *int
	with     []table.Named
}

func (s state) clone() state {
	out := s
	out.columns = slices.Clone(s.columns)
	out.joins = slices.Clone(s.joins)
	out.where = slices.Clone(s.where)
	out.having = slices.Clone(s.having)
	out.groupBy = slices.Clone(s.groupBy)
	out.orderBy = slices.Clone(s.orderBy)
	out.with = slices.Clone(s.with)
	return out
}

// QueryBuilder is an immutable query over one table. Every method returns a
// new builder; the receiver is left unchanged, so builders can be branched
// freely.
type QueryBuilder struct {
	db    *Database
	table *table.Table
	st    state
}

func (q *QueryBuilder) derive(patch func(*state)) *QueryBuilder {
	st := q.st.clone()
	patch(&st)
	return &QueryBuilder{db: q.db, table: q.table, st: st}
}

// Table returns the queried table.
func (q *QueryBuilder) Table() *table.Table { return q.table }

// Select adds columns to the selection. A qualified column is returned under
// its bare name.
func (q *QueryBuilder) Select(cols ...string) *QueryBuilder {
	return q.derive(func(s *state) {
		for _, c := range cols {
			alias := c
			if predicate.IsQualified(c) {
				alias = c[strings.LastIndexByte(c, '.')+1:]
			}
			s.columns = append(s.columns, adapter.Selection{Alias: alias, Column: c})
		}
	})
}

// SelectAs adds a column, or an expression such as "count(*)", returned
// under alias.
func (q *QueryBuilder) SelectAs(alias, col string) *QueryBuilder {
	return q.derive(func(s *state) {
		s.columns = append(s.columns, adapter.Selection{Alias: alias, Column: col})
	})
}

// Distinct removes duplicate rows.
func (q *QueryBuilder) Distinct() *QueryBuilder {
	return q.derive(func(s *state) { s.distinct = true })
}

func normalized(preds []predicate.Predicate) []predicate.Predicate {
	out := make([]predicate.Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, predicate.Normalize(p))
		}
	}
	return out
}

// Where adds predicates; all of them must hold.
func (q *QueryBuilder) Where(preds ...predicate.Predicate) *QueryBuilder {
	return q.derive(func(s *state) { s.where = append(s.where, normalized(preds)...) })
}

// Having adds predicates over grouped rows.
func (q *QueryBuilder) Having(preds ...predicate.Predicate) *QueryBuilder {
	return q.derive(func(s *state) { s.having = append(s.having, normalized(preds)...) })
}

func (q *QueryBuilder) join(kind adapter.JoinKind, t *table.Table, on []predicate.Predicate) *QueryBuilder {
	return q.derive(func(s *state) {
		s.joins = append(s.joins, joined{kind: kind, table: t, on: normalized(on)})
	})
}

// Join inner-joins t. Its columns become legal in later clauses.
func (q *QueryBuilder) Join(t *table.Table, on ...predicate.Predicate) *QueryBuilder {
	return q.join(adapter.InnerJoin, t, on)
}

// LeftJoin left-joins t.
func (q *QueryBuilder) LeftJoin(t *table.Table, on ...predicate.Predicate) *QueryBuilder {
	return q.join(adapter.LeftJoin, t, on)
}

// RightJoin right-joins t. SQLite accepts it from 3.39 on.
func (q *QueryBuilder) RightJoin(t *table.Table, on ...predicate.Predicate) *QueryBuilder {
	return q.join(adapter.RightJoin, t, on)
}

// FullJoin full-joins t. SQLite accepts it from 3.39 on.
func (q *QueryBuilder) FullJoin(t *table.Table, on ...predicate.Predicate) *QueryBuilder {
	return q.join(adapter.FullJoin, t, on)
}

// OrderBy adds an ordering term.
func (q *QueryBuilder) OrderBy(col string, dir adapter.Direction) *QueryBuilder {
	return q.derive(func(s *state) {
		s.orderBy = append(s.orderBy, adapter.OrderBy{Column: col, Direction: dir})
	})
}

// GroupBy adds grouping columns.
func (q *QueryBuilder) GroupBy(cols ...string) *QueryBuilder {
	return q.derive(func(s *state) { s.groupBy = append(s.groupBy, cols...) })
}

// Limit caps the number of rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	return q.derive(func(s *state) { s.limit = &n })
}

// Offset skips rows.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	return q.derive(func(s *state) { s.offset = &n })
}

// With loads rel for every fetched row and attaches the result under name.
func (q *QueryBuilder) With(name string, rel *table.Relation) *QueryBuilder {
	return q.derive(func(s *state) {
		for i, n := range s.with {
			if n.Name == name {
				s.with[i].Relation = rel
				return
			}
		}
		s.with = append(s.with, table.Named{Name: name, Relation: rel})
	})
}

func (q *QueryBuilder) adapterJoins() []adapter.Join {
	if len(q.st.joins) == 0 {
		return nil
	}
	out := make([]adapter.Join, len(q.st.joins))
	for i, j := range q.st.joins {
		out[i] = adapter.Join{Kind: j.kind, Table: j.table.Name(), On: j.on}
	}
	return out
}

func (q *QueryBuilder) selectStmt() adapter.Select {
	return adapter.Select{
		Table:    q.table.Name(),
		Columns:  q.st.columns,
		Distinct: q.st.distinct,
		Joins:    q.adapterJoins(),
		Where:    q.st.where,
		GroupBy:  q.st.groupBy,
		Having:   q.st.having,
		OrderBy:  q.st.orderBy,
		Limit:    q.st.limit,
		Offset:   q.st.offset,
	}
}

// isExpression reports whether col is an SQL expression rather than a
// column name.
func isExpression(col string) bool {
	return strings.ContainsAny(col, "( ")
}

// legalColumns returns every column name usable in the query: the bare and
// qualified names of the base table and each joined table.
func (q *QueryBuilder) legalColumns() (cols map[string]bool, tables map[string]bool) {
	cols = map[string]bool{}
	tables = map[string]bool{}
	add := func(t *table.Table) {
		tables[t.Name()] = true
		for _, c := range t.Columns() {
			cols[c] = true
			cols[t.Name()+"."+c] = true
		}
	}
	add(q.table)
	for _, j := range q.st.joins {
		add(j.table)
	}
	return cols, tables
}

// validate checks every referenced column against the base and joined
// tables, and every attached relation against the base table.
func (q *QueryBuilder) validate() error {
	if q.table == nil {
		return dberr.NewQueryError("query has no table")
	}
	cols, tables := q.legalColumns()
	aliases := map[string]bool{}
	for _, sel := range q.st.columns {
		if sel.Alias != "" {
			aliases[sel.Alias] = true
		}
	}

	check := func(col string) error {
		switch {
		case col == "*" || isExpression(col) || cols[col]:
			return nil
		case strings.HasSuffix(col, ".*") && tables[strings.TrimSuffix(col, ".*")]:
			return nil
		}
		err := dberr.NewQueryError("unknown column %q", col)
		err.Table = q.table.Name()
		return err
	}
	checkPreds := func(preds []predicate.Predicate) error {
		for _, p := range preds {
			for _, c := range predicate.Columns(p) {
				if err := check(c); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, sel := range q.st.columns {
		if err := check(sel.Column); err != nil {
			return err
		}
	}
	for _, j := range q.st.joins {
		if j.table == nil {
			return dberr.NewQueryError("join has no table")
		}
		if err := checkPreds(j.on); err != nil {
			return err
		}
	}
	if err := checkPreds(q.st.where); err != nil {
		return err
	}
	if err := checkPreds(q.st.having); err != nil {
		return err
	}
	for _, g := range q.st.groupBy {
		if err := check(g); err != nil {
			return err
		}
	}
	for _, o := range q.st.orderBy {
		if aliases[o.Column] {
			continue
		}
		if err := check(o.Column); err != nil {
			return err
		}
	}
	for _, n := range q.st.with {
		if n.Relation == nil || n.Relation.Source() != q.table {
			err := dberr.NewQueryError("relation %q does not start at %s", n.Name, q.table.Name())
			err.Table = q.table.Name()
			return err
		}
	}
	return nil
}
