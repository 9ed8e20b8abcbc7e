// Package sqlcompile lowers adapter statements to parameterized SQL text.
//
// Every literal is bound through a placeholder and never interpolated into
// the text. Identifiers are double-quoted; a column that already looks like
// an expression (it contains a parenthesis or a space) is emitted verbatim.
package sqlcompile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
)

// Compiler compiles statements for one dialect. It holds no per-call state
// and is safe for concurrent use.
type Compiler struct {
	dialect Dialect
}

// New creates a compiler for d.
func New(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *Compiler) Dialect() Dialect { return c.dialect }

// Compile converts a statement to SQL text and its bound values.
func (c *Compiler) Compile(stmt adapter.Statement) (string, []any, error) {
	if stmt == nil {
		return "", nil, dberr.NewQueryError("cannot compile nil statement")
	}

	b := &builder{dialect: c.dialect}
	var err error
	switch s := stmt.(type) {
	case adapter.Select:
		err = b.selectStmt(s)
	case adapter.Count:
		err = b.countStmt(adapter.Select{
			Table: s.Table, Columns: s.Columns, Distinct: s.Distinct,
			Joins: s.Joins, Where: s.Where, GroupBy: s.GroupBy, Having: s.Having,
		})
	case adapter.Exists:
		limit := 1
		err = b.countStmt(adapter.Select{
			Table: s.Table, Columns: s.Columns, Distinct: s.Distinct,
			Joins: s.Joins, Where: s.Where, GroupBy: s.GroupBy, Having: s.Having,
			Limit: &limit,
		})
	case adapter.Insert:
		err = b.insertStmt(s)
	case adapter.InsertMany:
		err = b.insertManyStmt(s)
	case adapter.Update:
		err = b.updateStmt(s)
	case adapter.Delete:
		err = b.deleteStmt(s)
	case adapter.Upsert:
		err = b.upsertStmt(s)
	case adapter.Raw:
		b.sb.WriteString(s.SQL)
		for _, a := range s.Args {
			b.args = append(b.args, c.dialect.Bind(a))
		}
	default:
		return "", nil, dberr.NewQueryError("unsupported statement type: %T", stmt)
	}
	if err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

// builder accumulates the text and bound values of one statement.
type builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

// bind records v and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, b.dialect.Bind(v))
	return b.dialect.Placeholder(len(b.args))
}

// QuoteIdent quotes a possibly qualified identifier. "*" and expressions are
// returned unchanged.
func QuoteIdent(name string) string {
	if name == "*" || strings.ContainsAny(name, "( ") {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func (b *builder) selectStmt(s adapter.Select) error {
	b.write("select ")
	if s.Distinct {
		b.write("distinct ")
	}
	b.selection(s.Columns)
	b.write(" from ", QuoteIdent(s.Table))
	if err := b.tail(s.Joins, s.Where, s.GroupBy, s.Having); err != nil {
		return err
	}
	if len(s.OrderBy) > 0 {
		terms := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			dir := o.Direction
			if dir == "" {
				dir = adapter.Asc
			}
			terms[i] = QuoteIdent(o.Column) + " " + string(dir)
		}
		b.write(" order by ", strings.Join(terms, ", "))
	}
	b.limitOffset(s.Limit, s.Offset)
	return nil
}

func (b *builder) selection(cols []adapter.Selection) {
	if len(cols) == 0 {
		b.write("*")
		return
	}
	for i, sel := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(QuoteIdent(sel.Column))
		if sel.Alias != "" && sel.Alias != sel.Column {
			b.write(" as ", QuoteIdent(sel.Alias))
		}
	}
}

func (b *builder) limitOffset(limit, offset *int) {
	switch {
	case limit != nil:
		b.write(" limit ", b.bind(*limit))
	case offset != nil && b.dialect.LimitAll != "":
		b.write(" limit ", b.dialect.LimitAll)
	}
	if offset != nil {
		b.write(" offset ", b.bind(*offset))
	}
}

// tail writes the joins, where, group by and having clauses shared by
// selects and counts.
func (b *builder) tail(joins []adapter.Join, where []predicate.Predicate, groupBy []string, having []predicate.Predicate) error {
	for _, j := range joins {
		kind := j.Kind
		if kind == "" {
			kind = adapter.InnerJoin
		}
		b.write(" ", string(kind), " join ", QuoteIdent(j.Table), " on ")
		if len(j.On) == 0 {
			b.write("1 = 1")
		} else if err := b.conjunction(j.On); err != nil {
			return fmt.Errorf("compile join %s: %w", j.Table, err)
		}
	}
	if len(where) > 0 {
		b.write(" where ")
		if err := b.conjunction(where); err != nil {
			return err
		}
	}
	if len(groupBy) > 0 {
		b.write(" group by ", quoteList(groupBy))
	}
	if len(having) > 0 {
		b.write(" having ")
		if err := b.conjunction(having); err != nil {
			return err
		}
	}
	return nil
}

// countStmt counts over a derived "select 1" so joins, grouping and having
// compose. A distinct count derives "select distinct <columns>" instead. A
// limit caps the derived rows, which is how exists is answered.
func (b *builder) countStmt(s adapter.Select) error {
	b.write(`select count(*) as "count" from (select `)
	if s.Distinct {
		b.write("distinct ")
		b.selection(s.Columns)
	} else {
		b.write("1")
	}
	b.write(" from ", QuoteIdent(s.Table))
	if err := b.tail(s.Joins, s.Where, s.GroupBy, s.Having); err != nil {
		return err
	}
	b.limitOffset(s.Limit, nil)
	b.write(`) as "sub"`)
	return nil
}

func (b *builder) returning(cols []string) {
	if len(cols) > 0 {
		b.write(" returning ", quoteList(cols))
	}
}

func (b *builder) valuesTuple(values adapter.Assignments) {
	b.write("(")
	for i, as := range values {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.bind(as.Value))
	}
	b.write(")")
}

func (b *builder) insertStmt(s adapter.Insert) error {
	b.write("insert into ", QuoteIdent(s.Table))
	if len(s.Values) == 0 {
		b.write(" default values")
	} else {
		b.write(" (", quoteList(s.Values.Columns()), ") values ")
		b.valuesTuple(s.Values)
	}
	b.returning(s.Returning)
	return nil
}

func (b *builder) insertManyStmt(s adapter.InsertMany) error {
	if len(s.Rows) == 0 {
		return dberr.NewQueryError("insertMany into %s has no rows", s.Table)
	}
	var cols []string
	for _, row := range s.Rows {
		for _, as := range row {
			if !slices.Contains(cols, as.Column) {
				cols = append(cols, as.Column)
			}
		}
	}
	if len(cols) == 0 {
		return dberr.NewQueryError("insertMany into %s has no columns", s.Table)
	}

	b.write("insert into ", QuoteIdent(s.Table), " (", quoteList(cols), ") values ")
	for i, row := range s.Rows {
		if i > 0 {
			b.write(", ")
		}
		b.write("(")
		for j, col := range cols {
			if j > 0 {
				b.write(", ")
			}
			if v, ok := row.Get(col); ok {
				b.write(b.bind(v))
			} else {
				b.write("null")
			}
		}
		b.write(")")
	}
	b.returning(s.Returning)
	return nil
}

func (b *builder) updateStmt(s adapter.Update) error {
	if len(s.Set) == 0 {
		return dberr.NewQueryError("update of %s sets no columns", s.Table)
	}
	b.write("update ", QuoteIdent(s.Table), " set ")
	for i, as := range s.Set {
		if i > 0 {
			b.write(", ")
		}
		b.write(QuoteIdent(as.Column), " = ", b.bind(as.Value))
	}
	if len(s.Where) > 0 {
		b.write(" where ")
		if err := b.conjunction(s.Where); err != nil {
			return err
		}
	}
	b.returning(s.Returning)
	return nil
}

func (b *builder) deleteStmt(s adapter.Delete) error {
	b.write("delete from ", QuoteIdent(s.Table))
	if len(s.Where) > 0 {
		b.write(" where ")
		if err := b.conjunction(s.Where); err != nil {
			return err
		}
	}
	b.returning(s.Returning)
	return nil
}

func (b *builder) upsertStmt(s adapter.Upsert) error {
	if len(s.Values) == 0 {
		return dberr.NewQueryError("upsert into %s has no columns", s.Table)
	}
	if len(s.Update) > 0 && len(s.Conflict) == 0 {
		return dberr.NewQueryError("upsert into %s updates on conflict without a conflict target", s.Table)
	}

	b.write("insert into ", QuoteIdent(s.Table), " (", quoteList(s.Values.Columns()), ") values ")
	b.valuesTuple(s.Values)
	b.write(" on conflict")
	if len(s.Conflict) > 0 {
		b.write(" (", quoteList(s.Conflict), ")")
	}
	if len(s.Update) == 0 {
		b.write(" do nothing")
	} else {
		b.write(" do update set ")
		for i, col := range s.Update {
			if i > 0 {
				b.write(", ")
			}
			q := QuoteIdent(col)
			b.write(q, " = excluded.", q)
		}
	}
	b.returning(s.Returning)
	return nil
}

// conjunction wraps each predicate in parentheses and joins them with and.
func (b *builder) conjunction(preds []predicate.Predicate) error {
	for i, p := range preds {
		if i > 0 {
			b.write(" and ")
		}
		b.write("(")
		if err := b.predicate(p); err != nil {
			return err
		}
		b.write(")")
	}
	return nil
}

var comparisonOps = map[predicate.Op]string{
	predicate.OpEq:  "=",
	predicate.OpNe:  "<>",
	predicate.OpGt:  ">",
	predicate.OpGte: ">=",
	predicate.OpLt:  "<",
	predicate.OpLte: "<=",
}

func (b *builder) predicate(p predicate.Predicate) error {
	switch pred := p.(type) {
	case predicate.Comparison:
		return b.comparison(pred)
	case predicate.Between:
		col := QuoteIdent(pred.Column)
		b.write(col, " between ", b.bind(pred.Lower), " and ", b.bind(pred.Upper))
	case predicate.Null:
		if pred.Op == predicate.OpNotNull {
			b.write(QuoteIdent(pred.Column), " is not null")
		} else {
			b.write(QuoteIdent(pred.Column), " is null")
		}
	case predicate.Logical:
		if len(pred.Predicates) == 0 {
			if pred.Op == predicate.OpOr {
				b.write("1 = 0")
			} else {
				b.write("1 = 1")
			}
			return nil
		}
		sep := " and "
		if pred.Op == predicate.OpOr {
			sep = " or "
		}
		for i, child := range pred.Predicates {
			if i > 0 {
				b.write(sep)
			}
			b.write("(")
			if err := b.predicate(child); err != nil {
				return err
			}
			b.write(")")
		}
	case predicate.Where:
		return b.predicate(predicate.NormalizeWhere(pred))
	default:
		return dberr.NewQueryError("unsupported predicate type: %T", p)
	}
	return nil
}

func (b *builder) comparison(cmp predicate.Comparison) error {
	col := QuoteIdent(cmp.Column)

	if cmp.ValueType == predicate.ValueColumn {
		op, ok := comparisonOps[cmp.Op]
		if !ok {
			return dberr.NewQueryError("operator %s cannot compare two columns", cmp.Op)
		}
		other, _ := cmp.Value.(string)
		b.write(col, " ", op, " ", QuoteIdent(other))
		return nil
	}

	switch cmp.Op {
	case predicate.OpIn, predicate.OpNotIn:
		values, ok := cmp.Value.([]any)
		if !ok {
			return dberr.NewQueryError("%s on %s needs a list, got %T", cmp.Op, cmp.Column, cmp.Value)
		}
		if len(values) == 0 {
			if cmp.Op == predicate.OpIn {
				b.write("1 = 0")
			} else {
				b.write("1 = 1")
			}
			return nil
		}
		b.write(col)
		if cmp.Op == predicate.OpNotIn {
			b.write(" not")
		}
		b.write(" in (")
		for i, v := range values {
			if i > 0 {
				b.write(", ")
			}
			b.write(b.bind(v))
		}
		b.write(")")
	case predicate.OpLike:
		b.write(col, " like ", b.bind(cmp.Value))
	case predicate.OpILike:
		if b.dialect.NativeILike {
			b.write(col, " ilike ", b.bind(cmp.Value))
		} else {
			b.write("lower(", col, ") like lower(", b.bind(cmp.Value), ")")
		}
	case predicate.OpEq, predicate.OpNe:
		if cmp.Value == nil {
			if cmp.Op == predicate.OpEq {
				b.write(col, " is null")
			} else {
				b.write(col, " is not null")
			}
			return nil
		}
		b.write(col, " ", comparisonOps[cmp.Op], " ", b.bind(cmp.Value))
	default:
		op, ok := comparisonOps[cmp.Op]
		if !ok {
			return dberr.NewQueryError("unknown comparison operator %q", cmp.Op)
		}
		b.write(col, " ", op, " ", b.bind(cmp.Value))
	}
	return nil
}
