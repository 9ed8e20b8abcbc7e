package memadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/schema"
	"github.com/roach88/datatable/internal/table"
)

var (
	accounts = table.MustNew("accounts", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("name", schema.String()),
		table.Column("status", schema.String()),
	})
	projects = table.MustNew("projects", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("account_id", schema.Int()),
		table.Column("name", schema.String()),
	})
)

func newAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a := New([]*table.Table{accounts, projects}, opts...)
	require.NoError(t, a.Load("accounts", []adapter.Row{
		{"id": int64(1), "name": "acme", "status": "active"},
		{"id": int64(2), "name": "Globex", "status": "paused"},
	}))
	require.NoError(t, a.Load("projects", []adapter.Row{
		{"id": int64(10), "account_id": int64(1), "name": "A"},
		{"id": int64(11), "account_id": int64(1), "name": "B"},
		{"id": int64(12), "account_id": int64(3), "name": "orphan"},
	}))
	return a
}

func exec(t *testing.T, a *Adapter, stmt adapter.Statement) adapter.Result {
	t.Helper()
	res, err := a.Execute(context.Background(), adapter.Request{Statement: stmt})
	require.NoError(t, err)
	return res
}

func names(rows []adapter.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return out
}

func TestSelect_WhereOrderLimit(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Select{
		Table:   "projects",
		Where:   []predicate.Predicate{predicate.Eq("account_id", 1)},
		OrderBy: []adapter.OrderBy{{Column: "name", Direction: adapter.Desc}},
	})
	assert.Equal(t, []any{"B", "A"}, names(res.Rows))

	one, two := 1, 1
	res = exec(t, a, adapter.Select{
		Table:   "projects",
		OrderBy: []adapter.OrderBy{{Column: "id", Direction: adapter.Asc}},
		Limit:   &one,
		Offset:  &two,
	})
	assert.Equal(t, []any{"B"}, names(res.Rows))
}

func TestSelect_Joins(t *testing.T) {
	a := newAdapter(t)
	on := []predicate.Predicate{predicate.Eq("accounts.id", "projects.account_id")}

	inner := exec(t, a, adapter.Select{
		Table:   "accounts",
		Columns: []adapter.Selection{{Alias: "account", Column: "accounts.name"}, {Alias: "project", Column: "projects.name"}},
		Joins:   []adapter.Join{{Kind: adapter.InnerJoin, Table: "projects", On: on}},
		OrderBy: []adapter.OrderBy{{Column: "projects.id"}},
	})
	assert.Equal(t, []adapter.Row{
		{"account": "acme", "project": "A"},
		{"account": "acme", "project": "B"},
	}, inner.Rows)

	left := exec(t, a, adapter.Select{
		Table:   "accounts",
		Columns: []adapter.Selection{{Alias: "account", Column: "accounts.name"}, {Alias: "project", Column: "projects.name"}},
		Joins:   []adapter.Join{{Kind: adapter.LeftJoin, Table: "projects", On: on}},
		Where:   []predicate.Predicate{predicate.IsNull("projects.id")},
	})
	assert.Equal(t, []adapter.Row{{"account": "Globex", "project": nil}}, left.Rows)

	_, err := a.Execute(context.Background(), adapter.Request{Statement: adapter.Select{
		Table: "accounts",
		Joins: []adapter.Join{{Kind: adapter.FullJoin, Table: "projects", On: on}},
	}})
	assert.ErrorContains(t, err, "full join is not supported")
}

func TestSelect_Distinct(t *testing.T) {
	a := newAdapter(t)
	res := exec(t, a, adapter.Select{
		Table:    "projects",
		Columns:  []adapter.Selection{{Column: "account_id"}},
		Distinct: true,
	})
	assert.Len(t, res.Rows, 2)
}

func TestSelect_LikeAndILike(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Select{Table: "accounts", Where: []predicate.Predicate{predicate.Like("name", "glo%")}})
	assert.Empty(t, res.Rows)

	res = exec(t, a, adapter.Select{Table: "accounts", Where: []predicate.Predicate{predicate.ILike("name", "glo%")}})
	assert.Equal(t, []any{"Globex"}, names(res.Rows))

	res = exec(t, a, adapter.Select{Table: "accounts", Where: []predicate.Predicate{predicate.Like("name", "a_me")}})
	assert.Equal(t, []any{"acme"}, names(res.Rows))
}

func TestSelect_EmptyCollections(t *testing.T) {
	a := newAdapter(t)
	count := func(p predicate.Predicate) int {
		return len(exec(t, a, adapter.Select{Table: "accounts", Where: []predicate.Predicate{p}}).Rows)
	}

	assert.Equal(t, 0, count(predicate.InList("id", []int{})))
	assert.Equal(t, 2, count(predicate.NotInList("id", []int{})))
	assert.Equal(t, 2, count(predicate.And()))
	assert.Equal(t, 0, count(predicate.Or()))
}

func TestSelect_UnknownColumn(t *testing.T) {
	a := newAdapter(t)
	_, err := a.Execute(context.Background(), adapter.Request{Statement: adapter.Select{
		Table: "accounts",
		Where: []predicate.Predicate{predicate.Eq("missing", 1)},
	}})
	assert.ErrorContains(t, err, `unknown column "missing"`)
}

func TestCountAndExists(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Count{Table: "projects", Where: []predicate.Predicate{predicate.Eq("account_id", 1)}})
	assert.Equal(t, int64(2), res.Rows[0]["count"])

	res = exec(t, a, adapter.Exists{Table: "projects", Where: []predicate.Predicate{predicate.Eq("account_id", 2)}})
	assert.Equal(t, false, res.Rows[0]["exists"])
}

func TestCount_Distinct(t *testing.T) {
	a := newAdapter(t)
	byAccount := []adapter.Selection{{Column: "account_id"}}

	res := exec(t, a, adapter.Count{Table: "projects", Columns: byAccount, Distinct: true})
	assert.Equal(t, int64(2), res.Rows[0]["count"])

	res = exec(t, a, adapter.Count{Table: "projects", Columns: byAccount})
	assert.Equal(t, int64(3), res.Rows[0]["count"])

	res = exec(t, a, adapter.Exists{
		Table:    "projects",
		Columns:  byAccount,
		Distinct: true,
		Where:    []predicate.Predicate{predicate.Eq("account_id", 1)},
	})
	assert.Equal(t, true, res.Rows[0]["exists"])
}

func TestInsert_GeneratesKeys(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Insert{
		Table:     "accounts",
		Values:    adapter.Assignments{{Column: "name", Value: "initech"}},
		Returning: []string{"id", "name"},
	})
	assert.Equal(t, int64(3), res.InsertID)
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Equal(t, []adapter.Row{{"id": int64(3), "name": "initech"}}, res.Rows)

	res = exec(t, a, adapter.InsertMany{
		Table: "accounts",
		Rows: []adapter.Assignments{
			{{Column: "name", Value: "x"}},
			{{Column: "name", Value: "y"}},
		},
	})
	assert.Equal(t, int64(5), res.InsertID)
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Nil(t, res.Rows)
}

func TestInsert_DuplicateKeyIsConstraintError(t *testing.T) {
	a := newAdapter(t)

	_, err := a.Execute(context.Background(), adapter.Request{Statement: adapter.InsertMany{
		Table: "accounts",
		Rows: []adapter.Assignments{
			{{Column: "id", Value: int64(7)}},
			{{Column: "id", Value: int64(1)}},
		},
	}})
	require.Error(t, err)
	assert.True(t, dberr.IsConstraint(err))
	assert.Contains(t, err.Error(), "UNIQUE constraint failed: accounts.id")

	// Nothing from the failed statement is kept.
	assert.Len(t, a.Rows("accounts"), 2)
}

func TestUpdateAndDelete(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Update{
		Table:     "projects",
		Set:       adapter.Assignments{{Column: "name", Value: "renamed"}},
		Where:     []predicate.Predicate{predicate.Eq("account_id", 1)},
		Returning: []string{"id"},
	})
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Equal(t, []adapter.Row{{"id": int64(10)}, {"id": int64(11)}}, res.Rows)

	res = exec(t, a, adapter.Delete{
		Table:     "projects",
		Where:     []predicate.Predicate{predicate.Gt("id", 10)},
		Returning: []string{"name"},
	})
	assert.Equal(t, int64(2), res.AffectedRows)
	assert.Equal(t, []any{"renamed", "orphan"}, names(res.Rows))
	assert.Len(t, a.Rows("projects"), 1)
}

func TestUpsert(t *testing.T) {
	a := newAdapter(t)

	res := exec(t, a, adapter.Upsert{
		Table:    "accounts",
		Values:   adapter.Assignments{{Column: "id", Value: int64(1)}, {Column: "name", Value: "acme2"}},
		Conflict: []string{"id"},
		Update:   []string{"name"},
	})
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Len(t, a.Rows("accounts"), 2)
	assert.Equal(t, "acme2", a.Rows("accounts")[0]["name"])

	res = exec(t, a, adapter.Upsert{
		Table:    "accounts",
		Values:   adapter.Assignments{{Column: "id", Value: int64(1)}, {Column: "name", Value: "ignored"}},
		Conflict: []string{"id"},
	})
	assert.Equal(t, int64(0), res.AffectedRows)
	assert.Equal(t, "acme2", a.Rows("accounts")[0]["name"])

	exec(t, a, adapter.Upsert{
		Table:    "accounts",
		Values:   adapter.Assignments{{Column: "id", Value: int64(9)}, {Column: "name", Value: "new"}},
		Conflict: []string{"id"},
		Update:   []string{"name"},
	})
	assert.Len(t, a.Rows("accounts"), 3)
}

func TestCapabilitiesSwitchedOff(t *testing.T) {
	a := newAdapter(t, WithCapabilities(adapter.Capabilities{}))
	ctx := context.Background()

	_, err := a.Execute(ctx, adapter.Request{Statement: adapter.Insert{
		Table: "accounts", Values: adapter.Assignments{{Column: "name", Value: "x"}}, Returning: []string{"id"},
	}})
	assert.ErrorContains(t, err, "returning is not supported")

	_, err = a.Execute(ctx, adapter.Request{Statement: adapter.Upsert{
		Table: "accounts", Values: adapter.Assignments{{Column: "id", Value: 1}},
	}})
	assert.ErrorContains(t, err, "upsert is not supported")

	res, err := a.Execute(ctx, adapter.Request{Statement: adapter.Insert{
		Table: "accounts", Values: adapter.Assignments{{Column: "name", Value: "x"}},
	}})
	require.NoError(t, err)
	assert.Nil(t, res.InsertID)

	tok, err := a.BeginTransaction(ctx, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, a.CreateSavepoint(ctx, tok, "sp_1"), "savepoints are not supported")
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	insert := adapter.Insert{Table: "accounts", Values: adapter.Assignments{{Column: "name", Value: "tx"}}}

	tok, err := a.BeginTransaction(ctx, nil)
	require.NoError(t, err)
	assert.True(t, a.InTransaction())
	_, err = a.Execute(ctx, adapter.Request{Statement: insert, Tx: &tok})
	require.NoError(t, err)

	// Uncommitted rows are invisible outside the transaction.
	assert.Len(t, a.Rows("accounts"), 2)
	require.NoError(t, a.RollbackTransaction(ctx, tok))
	assert.Len(t, a.Rows("accounts"), 2)
	assert.False(t, a.InTransaction())

	tok, err = a.BeginTransaction(ctx, nil)
	require.NoError(t, err)
	_, err = a.Execute(ctx, adapter.Request{Statement: insert, Tx: &tok})
	require.NoError(t, err)
	require.NoError(t, a.CommitTransaction(ctx, tok))
	assert.Len(t, a.Rows("accounts"), 3)

	assert.Error(t, a.CommitTransaction(ctx, tok))
	_, err = a.Execute(ctx, adapter.Request{Statement: insert, Tx: &tok})
	assert.ErrorContains(t, err, "unknown transaction")
}

func TestSavepoints(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()
	insert := func(tok adapter.TxToken, name string) {
		_, err := a.Execute(ctx, adapter.Request{
			Statement: adapter.Insert{Table: "accounts", Values: adapter.Assignments{{Column: "name", Value: name}}},
			Tx:        &tok,
		})
		require.NoError(t, err)
	}

	tok, err := a.BeginTransaction(ctx, nil)
	require.NoError(t, err)
	insert(tok, "before")
	require.NoError(t, a.CreateSavepoint(ctx, tok, "sp_1"))
	insert(tok, "inner")
	require.NoError(t, a.CreateSavepoint(ctx, tok, "sp_2"))
	insert(tok, "innermost")
	require.NoError(t, a.RollbackToSavepoint(ctx, tok, "sp_1"))
	require.NoError(t, a.ReleaseSavepoint(ctx, tok, "sp_1"))
	assert.Error(t, a.ReleaseSavepoint(ctx, tok, "sp_2"))
	insert(tok, "after")
	require.NoError(t, a.CommitTransaction(ctx, tok))

	assert.Equal(t, []any{"acme", "Globex", "before", "after"}, names(a.Rows("accounts")))
}

func TestRawIsRejected(t *testing.T) {
	a := newAdapter(t)
	_, err := a.Execute(context.Background(), adapter.Request{Statement: adapter.Raw{SQL: "select 1"}})
	assert.ErrorContains(t, err, "raw statements are not supported")
}
