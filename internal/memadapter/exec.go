package memadapter

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/schema"
	"github.com/roach88/datatable/internal/table"
)

func (a *Adapter) execute(data dataset, stmt adapter.Statement) (adapter.Result, error) {
	switch s := stmt.(type) {
	case adapter.Select:
		return a.selectRows(data, s)
	case adapter.Count:
		n, err := a.countRows(data, adapter.Select{
			Table: s.Table, Columns: s.Columns, Distinct: s.Distinct,
			Joins: s.Joins, Where: s.Where, GroupBy: s.GroupBy, Having: s.Having,
		})
		if err != nil {
			return adapter.Result{}, err
		}
		return adapter.Result{Rows: []adapter.Row{{"count": int64(n)}}}, nil
	case adapter.Exists:
		n, err := a.countRows(data, adapter.Select{
			Table: s.Table, Columns: s.Columns, Distinct: s.Distinct,
			Joins: s.Joins, Where: s.Where, GroupBy: s.GroupBy, Having: s.Having,
		})
		if err != nil {
			return adapter.Result{}, err
		}
		return adapter.Result{Rows: []adapter.Row{{"exists": n > 0}}}, nil
	case adapter.Insert:
		return a.insert(data, s.Table, []adapter.Assignments{s.Values}, s.Returning)
	case adapter.InsertMany:
		if len(s.Rows) == 0 {
			return adapter.Result{}, fmt.Errorf("insertMany into %s has no rows", s.Table)
		}
		return a.insert(data, s.Table, s.Rows, s.Returning)
	case adapter.Update:
		return a.update(data, s)
	case adapter.Delete:
		return a.delete(data, s)
	case adapter.Upsert:
		return a.upsert(data, s)
	case adapter.Raw:
		return adapter.Result{}, fmt.Errorf("raw statements are not supported by the %s adapter", Dialect)
	default:
		return adapter.Result{}, fmt.Errorf("unsupported statement type: %T", stmt)
	}
}

func (a *Adapter) resolve(data dataset, name string) (*table.Table, *tableData, error) {
	t, ok := a.tables[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown table %q", name)
	}
	return t, data[name], nil
}

// autoKey returns the generated key column of t: a single integer primary
// key, or "" when the table has none.
func autoKey(t *table.Table) string {
	pk := t.PrimaryKey()
	if len(pk) != 1 {
		return ""
	}
	s, _ := t.Schema(pk[0])
	if schema.TypeOf(s) != schema.TypeInt {
		return ""
	}
	return pk[0]
}

func (td *tableData) observeID(t *table.Table, row adapter.Row) {
	col := autoKey(t)
	if col == "" {
		return
	}
	if n, ok := numeric(row[col]); ok && int64(n) >= td.nextID {
		td.nextID = int64(n) + 1
	}
}

func primaryKey(t *table.Table, row adapter.Row) (string, error) {
	pk := t.PrimaryKey()
	values := make([]any, len(pk))
	for i, c := range pk {
		if row[c] == nil {
			return "", dberr.NewConstraintError(Dialect,
				fmt.Sprintf("NOT NULL constraint failed: %s.%s", t.Name(), c), nil)
		}
		values[i] = row[c]
	}
	return keyOf(values...), nil
}

func uniqueViolation(t *table.Table) error {
	cols := t.PrimaryKey()
	for i, c := range cols {
		cols[i] = t.Name() + "." + c
	}
	return dberr.NewConstraintError(Dialect,
		"UNIQUE constraint failed: "+strings.Join(cols, ", "), nil)
}

func (a *Adapter) checkReturning(returning []string) error {
	if len(returning) > 0 && !a.caps.Returning {
		return fmt.Errorf("returning is not supported")
	}
	return nil
}

func project(t *table.Table, row adapter.Row, cols []string) (adapter.Row, error) {
	out := make(adapter.Row, len(cols))
	for _, c := range cols {
		if c == "*" {
			for _, tc := range t.Columns() {
				out[tc] = row[tc]
			}
			continue
		}
		if !t.HasColumn(c) {
			return nil, fmt.Errorf("unknown column %q in returning", c)
		}
		out[c] = row[c]
	}
	return out, nil
}

func projectAll(t *table.Table, rows []adapter.Row, cols []string) ([]adapter.Row, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	out := make([]adapter.Row, 0, len(rows))
	for _, r := range rows {
		p, err := project(t, r, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// scan produces the joined, filtered scopes of a read.
func (a *Adapter) scan(data dataset, name string, joins []adapter.Join, where []predicate.Predicate, groupBy []string, having []predicate.Predicate) ([]scope, error) {
	if len(groupBy) > 0 || len(having) > 0 {
		return nil, fmt.Errorf("group by and having are not supported by the %s adapter", Dialect)
	}
	t, td, err := a.resolve(data, name)
	if err != nil {
		return nil, err
	}

	scopes := make([]scope, 0, len(td.rows))
	for _, row := range td.rows {
		sc := scope{}
		sc.add(t.Name(), t.Columns(), row)
		scopes = append(scopes, sc)
	}

	for _, j := range joins {
		if j.Kind != "" && j.Kind != adapter.InnerJoin && j.Kind != adapter.LeftJoin {
			return nil, fmt.Errorf("%s join is not supported by the %s adapter", j.Kind, Dialect)
		}
		jt, jd, err := a.resolve(data, j.Table)
		if err != nil {
			return nil, err
		}
		var joined []scope
		for _, sc := range scopes {
			matched := false
			for _, jrow := range jd.rows {
				next := sc.clone()
				next.add(jt.Name(), jt.Columns(), jrow)
				ok, err := matchAll(j.On, next)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					joined = append(joined, next)
				}
			}
			if !matched && j.Kind == adapter.LeftJoin {
				next := sc.clone()
				next.add(jt.Name(), jt.Columns(), adapter.Row{})
				joined = append(joined, next)
			}
		}
		scopes = joined
	}

	out := scopes[:0]
	for _, sc := range scopes {
		ok, err := matchAll(where, sc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

// countRows counts the rows s matches. Only a distinct count needs the
// projected rows.
func (a *Adapter) countRows(data dataset, s adapter.Select) (int, error) {
	if s.Distinct {
		res, err := a.selectRows(data, s)
		return len(res.Rows), err
	}
	scopes, err := a.scan(data, s.Table, s.Joins, s.Where, s.GroupBy, s.Having)
	return len(scopes), err
}

func (a *Adapter) selectRows(data dataset, s adapter.Select) (adapter.Result, error) {
	scopes, err := a.scan(data, s.Table, s.Joins, s.Where, s.GroupBy, s.Having)
	if err != nil {
		return adapter.Result{}, err
	}

	// Selection aliases are orderable.
	for _, sc := range scopes {
		for _, sel := range s.Columns {
			if _, taken := sc[sel.Alias]; sel.Alias == "" || taken {
				continue
			}
			if v, err := sc.lookup(sel.Column); err == nil {
				sc[sel.Alias] = v
			}
		}
	}

	for _, o := range s.OrderBy {
		for _, sc := range scopes {
			if _, err := sc.lookup(o.Column); err != nil {
				return adapter.Result{}, err
			}
			break
		}
	}
	sort.SliceStable(scopes, func(i, j int) bool {
		for _, o := range s.OrderBy {
			c := sortValue(scopes[i][o.Column], scopes[j][o.Column])
			if o.Direction == adapter.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	rows := make([]adapter.Row, 0, len(scopes))
	seen := map[string]bool{}
	for _, sc := range scopes {
		row, err := projectScope(sc, s.Columns)
		if err != nil {
			return adapter.Result{}, err
		}
		if s.Distinct {
			k := rowKey(row)
			if seen[k] {
				continue
			}
			seen[k] = true
		}
		rows = append(rows, row)
	}

	if s.Offset != nil {
		rows = rows[min(*s.Offset, len(rows)):]
	}
	if s.Limit != nil && *s.Limit >= 0 && *s.Limit < len(rows) {
		rows = rows[:*s.Limit]
	}
	return adapter.Result{Rows: rows}, nil
}

// projectScope builds an output row. Without a selection every bare column
// name is returned.
func projectScope(sc scope, cols []adapter.Selection) (adapter.Row, error) {
	if len(cols) == 0 {
		row := make(adapter.Row)
		for k, v := range sc {
			if !strings.Contains(k, ".") {
				row[k] = v
			}
		}
		return row, nil
	}
	row := make(adapter.Row, len(cols))
	for _, sel := range cols {
		v, err := sc.lookup(sel.Column)
		if err != nil {
			return nil, err
		}
		key := sel.Alias
		if key == "" {
			key = sel.Column
		}
		row[key] = v
	}
	return row, nil
}

func rowKey(row adapter.Row) string {
	keys := slices.Sorted(maps.Keys(row))
	parts := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		parts = append(parts, k, row[k])
	}
	return keyOf(parts...)
}

func (a *Adapter) insert(data dataset, name string, rows []adapter.Assignments, returning []string) (adapter.Result, error) {
	if err := a.checkReturning(returning); err != nil {
		return adapter.Result{}, err
	}
	t, td, err := a.resolve(data, name)
	if err != nil {
		return adapter.Result{}, err
	}

	existing := make(map[string]bool, len(td.rows))
	for _, r := range td.rows {
		k, err := primaryKey(t, r)
		if err != nil {
			return adapter.Result{}, err
		}
		existing[k] = true
	}

	auto := autoKey(t)
	nextID := td.nextID
	var lastID any
	added := make([]adapter.Row, 0, len(rows))
	for _, values := range rows {
		row := make(adapter.Row, len(t.Columns()))
		for _, c := range t.Columns() {
			row[c] = nil
		}
		for _, as := range values {
			if !t.HasColumn(as.Column) {
				return adapter.Result{}, fmt.Errorf("table %s has no column %q", t.Name(), as.Column)
			}
			row[as.Column] = as.Value
		}
		if auto != "" {
			if row[auto] == nil {
				row[auto] = nextID
				nextID++
			} else if n, ok := numeric(row[auto]); ok && int64(n) >= nextID {
				nextID = int64(n) + 1
			}
			lastID = row[auto]
		}
		k, err := primaryKey(t, row)
		if err != nil {
			return adapter.Result{}, err
		}
		if existing[k] {
			return adapter.Result{}, uniqueViolation(t)
		}
		existing[k] = true
		added = append(added, row)
	}

	td.rows = append(td.rows, added...)
	td.nextID = nextID

	res := adapter.Result{AffectedRows: int64(len(added))}
	if a.caps.InsertID && auto != "" {
		res.InsertID = lastID
	}
	if res.Rows, err = projectAll(t, added, returning); err != nil {
		return adapter.Result{}, err
	}
	return res, nil
}

// rewrite replaces rows of td. changed maps row index to the new row.
func rewrite(t *table.Table, td *tableData, changed map[int]adapter.Row) error {
	seen := make(map[string]bool, len(td.rows))
	for i, r := range td.rows {
		if nr, ok := changed[i]; ok {
			r = nr
		}
		k, err := primaryKey(t, r)
		if err != nil {
			return err
		}
		if seen[k] {
			return uniqueViolation(t)
		}
		seen[k] = true
	}
	for i, nr := range changed {
		td.rows[i] = nr
		td.observeID(t, nr)
	}
	return nil
}

func (a *Adapter) update(data dataset, s adapter.Update) (adapter.Result, error) {
	if err := a.checkReturning(s.Returning); err != nil {
		return adapter.Result{}, err
	}
	if len(s.Set) == 0 {
		return adapter.Result{}, fmt.Errorf("update of %s sets no columns", s.Table)
	}
	t, td, err := a.resolve(data, s.Table)
	if err != nil {
		return adapter.Result{}, err
	}
	for _, as := range s.Set {
		if !t.HasColumn(as.Column) {
			return adapter.Result{}, fmt.Errorf("table %s has no column %q", t.Name(), as.Column)
		}
	}

	changed := map[int]adapter.Row{}
	var order []int
	for i, row := range td.rows {
		sc := scope{}
		sc.add(t.Name(), t.Columns(), row)
		ok, err := matchAll(s.Where, sc)
		if err != nil {
			return adapter.Result{}, err
		}
		if !ok {
			continue
		}
		nr := maps.Clone(row)
		for _, as := range s.Set {
			nr[as.Column] = as.Value
		}
		changed[i] = nr
		order = append(order, i)
	}
	if err := rewrite(t, td, changed); err != nil {
		return adapter.Result{}, err
	}

	updated := make([]adapter.Row, len(order))
	for i, idx := range order {
		updated[i] = td.rows[idx]
	}
	rows, err := projectAll(t, updated, s.Returning)
	if err != nil {
		return adapter.Result{}, err
	}
	return adapter.Result{Rows: rows, AffectedRows: int64(len(order))}, nil
}

func (a *Adapter) delete(data dataset, s adapter.Delete) (adapter.Result, error) {
	if err := a.checkReturning(s.Returning); err != nil {
		return adapter.Result{}, err
	}
	t, td, err := a.resolve(data, s.Table)
	if err != nil {
		return adapter.Result{}, err
	}

	var kept, removed []adapter.Row
	for _, row := range td.rows {
		sc := scope{}
		sc.add(t.Name(), t.Columns(), row)
		ok, err := matchAll(s.Where, sc)
		if err != nil {
			return adapter.Result{}, err
		}
		if ok {
			removed = append(removed, row)
		} else {
			kept = append(kept, row)
		}
	}
	rows, err := projectAll(t, removed, s.Returning)
	if err != nil {
		return adapter.Result{}, err
	}
	td.rows = kept
	return adapter.Result{Rows: rows, AffectedRows: int64(len(removed))}, nil
}

func (a *Adapter) upsert(data dataset, s adapter.Upsert) (adapter.Result, error) {
	if !a.caps.Upsert {
		return adapter.Result{}, fmt.Errorf("upsert is not supported")
	}
	if err := a.checkReturning(s.Returning); err != nil {
		return adapter.Result{}, err
	}
	if len(s.Values) == 0 {
		return adapter.Result{}, fmt.Errorf("upsert into %s has no columns", s.Table)
	}
	t, td, err := a.resolve(data, s.Table)
	if err != nil {
		return adapter.Result{}, err
	}

	conflict := s.Conflict
	if len(conflict) == 0 {
		conflict = t.PrimaryKey()
	}
	idx := -1
	for i, row := range td.rows {
		all := true
		for _, c := range conflict {
			v, ok := s.Values.Get(c)
			if !ok || !equalValues(row[c], v) {
				all = false
				break
			}
		}
		if all {
			idx = i
			break
		}
	}

	if idx < 0 {
		return a.insert(data, s.Table, []adapter.Assignments{s.Values}, s.Returning)
	}
	if len(s.Update) == 0 {
		return adapter.Result{}, nil
	}

	nr := maps.Clone(td.rows[idx])
	for _, c := range s.Update {
		if !t.HasColumn(c) {
			return adapter.Result{}, fmt.Errorf("table %s has no column %q", t.Name(), c)
		}
		v, _ := s.Values.Get(c)
		nr[c] = v
	}
	if err := rewrite(t, td, map[int]adapter.Row{idx: nr}); err != nil {
		return adapter.Result{}, err
	}
	rows, err := projectAll(t, []adapter.Row{nr}, s.Returning)
	if err != nil {
		return adapter.Result{}, err
	}
	return adapter.Result{Rows: rows, AffectedRows: 1}, nil
}
