package database

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
)

// All runs the query and loads the relations attached with With.
func (q *QueryBuilder) All(ctx context.Context) ([]adapter.Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	res, err := q.db.execute(ctx, q.selectStmt())
	if err != nil {
		return nil, err
	}
	rows := res.Rows
	if rows == nil {
		rows = []adapter.Row{}
	}
	for _, n := range q.st.with {
		if err := q.db.loadRelation(ctx, rows, n.Name, n.Relation); err != nil {
			return nil, fmt.Errorf("load relation %s: %w", n.Name, err)
		}
	}
	return rows, nil
}

// First returns the first row, or nil when there is none.
func (q *QueryBuilder) First(ctx context.Context) (adapter.Row, error) {
	rows, err := q.Limit(1).All(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Find returns the row with the given primary key, or nil. A composite key
// must be given as a predicate.Where naming every key column.
func (q *QueryBuilder) Find(ctx context.Context, key any) (adapter.Row, error) {
	w, err := primaryKeyWhere(q.table.Name(), q.table.PrimaryKey(), key)
	if err != nil {
		return nil, err
	}
	return q.Where(w).First(ctx)
}

func primaryKeyWhere(tableName string, pk []string, key any) (predicate.Where, error) {
	w, ok := key.(predicate.Where)
	if !ok {
		if m, isMap := key.(map[string]any); isMap {
			w, ok = predicate.Where(m), true
		}
	}
	if !ok {
		if len(pk) != 1 {
			err := dberr.NewQueryError("composite primary key %v needs a key object", pk)
			err.Table = tableName
			return nil, err
		}
		return predicate.Where{pk[0]: key}, nil
	}
	if len(w) != len(pk) {
		err := dberr.NewQueryError("key object must name exactly the primary key columns %v", pk)
		err.Table = tableName
		return nil, err
	}
	for _, c := range pk {
		if _, has := w[c]; !has {
			err := dberr.NewQueryError("key object is missing primary key column %q", c)
			err.Table = tableName
			return nil, err
		}
	}
	return w, nil
}

// Count returns the number of rows the query would return.
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	if err := q.validate(); err != nil {
		return 0, err
	}
	res, err := q.db.execute(ctx, adapter.Count{
		Table:    q.table.Name(),
		Columns:  q.st.columns,
		Distinct: q.st.distinct,
		Joins:    q.adapterJoins(),
		Where:    q.st.where,
		GroupBy:  q.st.groupBy,
		Having:   q.st.having,
	})
	if err != nil {
		return 0, err
	}
	n, _, err := scalar(res)
	return n, err
}

// Exists reports whether the query would return any row.
func (q *QueryBuilder) Exists(ctx context.Context) (bool, error) {
	if err := q.validate(); err != nil {
		return false, err
	}
	res, err := q.db.execute(ctx, adapter.Exists{
		Table:    q.table.Name(),
		Columns:  q.st.columns,
		Distinct: q.st.distinct,
		Joins:    q.adapterJoins(),
		Where:    q.st.where,
		GroupBy:  q.st.groupBy,
		Having:   q.st.having,
	})
	if err != nil {
		return false, err
	}
	n, exists, err := scalar(res)
	if err != nil {
		return false, err
	}
	if exists != nil {
		return *exists, nil
	}
	return n > 0, nil
}

// scalar extracts a count or exists answer. Adapters may answer with a
// "count" number or an "exists" flag.
func scalar(res adapter.Result) (int64, *bool, error) {
	if len(res.Rows) == 0 {
		return 0, nil, nil
	}
	row := res.Rows[0]
	if v, ok := row["exists"]; ok {
		b, err := toBool(v)
		if err != nil {
			return 0, nil, err
		}
		n := int64(0)
		if b {
			n = 1
		}
		return n, &b, nil
	}
	if v, ok := row["count"]; ok {
		n, err := toInt64(v)
		return n, nil, err
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return 0, nil, dberr.NewQueryError("adapter answered without a count or exists column: %v", keys)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return 0, dberr.NewQueryError("cannot read %T as a count", v)
}

func toBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}
