package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/database"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/table"
)

// errRollback makes a transaction body fail on purpose.
var errRollback = errors.New("scenario requested rollback")

// execute runs one step on db and records its trace event. The returned
// error reports an unmet expectation or an unexpected failure.
func (h *Harness) execute(ctx context.Context, db *database.Database, step Step, depth int) error {
	if step.Op == OpTransaction {
		return h.transaction(ctx, db, step, depth)
	}

	ev := TraceEvent{Depth: depth, Op: step.Op, Table: step.Table}
	outcome, err := h.perform(ctx, db, step)
	if err != nil {
		kind := errorKind(err)
		ev.Error = kind
		h.result.record(ev)
		if step.Expect == nil || step.Expect.Error == "" {
			return fmt.Errorf("unexpected error: %w", err)
		}
		if kind != step.Expect.Error {
			return fmt.Errorf("expected %s error, got %s: %v", step.Expect.Error, kind, err)
		}
		return nil
	}

	ev.Result = outcome.result
	ev.Affected = outcome.affected
	h.result.record(ev)
	if step.Expect != nil {
		return checkExpect(step.Expect, outcome)
	}
	return nil
}

func (h *Harness) transaction(ctx context.Context, db *database.Database, step Step, depth int) error {
	h.result.record(TraceEvent{Depth: depth, Op: "begin"})

	var failed error
	err := db.Transaction(ctx, func(tx *database.Database) error {
		for i, inner := range step.Steps {
			if err := h.execute(ctx, tx, inner, depth+1); err != nil {
				failed = fmt.Errorf("steps[%d] (%s): %w", i, inner.Op, err)
				return failed
			}
		}
		if step.Rollback {
			return errRollback
		}
		return nil
	})
	if failed != nil {
		return failed
	}

	switch {
	case err == nil:
		h.result.record(TraceEvent{Depth: depth, Op: "commit"})
	case errors.Is(err, errRollback):
		h.result.record(TraceEvent{Depth: depth, Op: "rollback"})
	default:
		kind := errorKind(err)
		h.result.record(TraceEvent{Depth: depth, Op: "rollback", Error: kind})
		if step.Expect == nil || step.Expect.Error != kind {
			return fmt.Errorf("transaction failed: %w", err)
		}
	}
	return nil
}

type outcome struct {
	result   any
	rows     []adapter.Row
	row      adapter.Row
	isRow    bool
	count    *int64
	exists   *bool
	affected *int64
}

func (h *Harness) perform(ctx context.Context, db *database.Database, step Step) (outcome, error) {
	t, ok := h.catalog.Table(step.Table)
	if !ok {
		return outcome{}, fmt.Errorf("unknown table %q", step.Table)
	}
	q, err := h.query(db, t, step)
	if err != nil {
		return outcome{}, err
	}

	switch step.Op {
	case OpQuery:
		rows, err := q.All(ctx)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: normalize(rows), rows: rows}, nil

	case OpFirst, OpFind:
		var row adapter.Row
		if step.Op == OpFind {
			row, err = q.Find(ctx, step.Key)
		} else {
			row, err = q.First(ctx)
		}
		if err != nil {
			return outcome{}, err
		}
		o := outcome{row: row, isRow: true}
		if row != nil {
			o.result = normalize(row)
		}
		return o, nil

	case OpCount:
		n, err := q.Count(ctx)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: n, count: &n}, nil

	case OpExists:
		ok, err := q.Exists(ctx)
		if err != nil {
			return outcome{}, err
		}
		return outcome{result: ok, exists: &ok}, nil
	}

	opts := writeOptions(step)
	var res database.WriteResult
	switch step.Op {
	case OpInsert:
		res, err = q.Insert(ctx, database.Values(step.Values), opts...)
	case OpInsertMany:
		values := make([]database.Values, len(step.Rows))
		for i, r := range step.Rows {
			values[i] = database.Values(r)
		}
		res, err = q.InsertMany(ctx, values, opts...)
	case OpUpdate:
		res, err = q.Update(ctx, database.Values(step.Values), opts...)
	case OpDelete:
		res, err = q.Delete(ctx, opts...)
	case OpUpsert:
		res, err = q.Upsert(ctx, database.Values(step.Values), opts...)
	default:
		return outcome{}, fmt.Errorf("unknown op %q", step.Op)
	}
	if err != nil {
		return outcome{}, err
	}

	o := outcome{rows: res.Rows}
	if res.Rows != nil {
		o.result = normalize(res.Rows)
	}
	// Affected counts for an upsert differ between engines.
	if step.Op != OpUpsert {
		n := res.AffectedRows
		o.affected = &n
	}
	return o, nil
}

func (h *Harness) query(db *database.Database, t *table.Table, step Step) (*database.QueryBuilder, error) {
	q := db.Query(t)
	if len(step.Select) > 0 {
		q = q.Select(step.Select...)
	}
	if len(step.Where) > 0 {
		q = q.Where(predicate.Where(step.Where))
	}
	for _, ob := range step.OrderBy {
		col, dir, err := parseOrder(ob)
		if err != nil {
			return nil, err
		}
		q = q.OrderBy(col, dir)
	}
	if step.Limit != nil {
		q = q.Limit(*step.Limit)
	}
	if step.Offset != nil {
		q = q.Offset(*step.Offset)
	}
	for _, name := range step.With {
		rel, ok := h.catalog.Relation(t.Name(), name)
		if !ok {
			return nil, fmt.Errorf("unknown relation %q on %s", name, t.Name())
		}
		q = q.With(name, rel)
	}
	return q, nil
}

func parseOrder(s string) (string, adapter.Direction, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return fields[0], adapter.Asc, nil
	case 2:
		switch dir := adapter.Direction(strings.ToLower(fields[1])); dir {
		case adapter.Asc, adapter.Desc:
			return fields[0], dir, nil
		}
	}
	return "", "", fmt.Errorf("invalid order_by %q", s)
}

func writeOptions(step Step) []database.WriteOption {
	var opts []database.WriteOption
	switch {
	case len(step.Returning) == 1 && step.Returning[0] == "*":
		opts = append(opts, database.Returning())
	case len(step.Returning) > 0:
		opts = append(opts, database.Returning(step.Returning...))
	}
	if len(step.OnConflict) > 0 {
		opts = append(opts, database.OnConflict(step.OnConflict...))
	}
	if len(step.DoUpdate) > 0 {
		opts = append(opts, database.DoUpdate(step.DoUpdate...))
	}
	if step.DoNothing {
		opts = append(opts, database.DoNothing())
	}
	return opts
}

// errorKind returns the dberr kind of err, or ERROR for anything else.
func errorKind(err error) string {
	if e, ok := dberr.As(err); ok {
		return string(e.Kind)
	}
	return "ERROR"
}
