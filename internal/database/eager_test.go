package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/memadapter"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/table"
	"github.com/roach88/datatable/internal/testutil"
)

func names(rows []adapter.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["name"].(string)
	}
	return out
}

func related(t *testing.T, row adapter.Row, name string) []adapter.Row {
	t.Helper()
	v, ok := row[name]
	require.True(t, ok, "row has no %q attachment", name)
	rows, ok := v.([]adapter.Row)
	require.True(t, ok, "%q attachment is %T", name, v)
	return rows
}

func TestWith_HasManyFanOut(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		rows, err := db.Query(testutil.Accounts).
			Where(predicate.InList("id", []int{1, 2})).
			OrderBy("id", adapter.Asc).
			With("projects", testutil.AccountProjects).
			All(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, []string{"A", "B"}, names(related(t, rows[0], "projects")))
		assert.Equal(t, []string{"C"}, names(related(t, rows[1], "projects")))
	})
}

func TestWith_EmptyManyAttachesEmptyList(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		rows, err := db.Query(testutil.Accounts).
			Where(predicate.Eq("id", 3)).
			With("projects", testutil.AccountProjects).
			With("profile", testutil.AccountProfile).
			All(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 1)

		assert.Equal(t, []adapter.Row{}, rows[0]["projects"])
		v, ok := rows[0]["profile"]
		assert.True(t, ok)
		assert.Nil(t, v)
	})
}

func TestWith_HasOneAndBelongsTo(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		ctx := context.Background()

		acct, err := db.Query(testutil.Accounts).With("profile", testutil.AccountProfile).Find(ctx, 1)
		require.NoError(t, err)
		profile, ok := acct["profile"].(adapter.Row)
		require.True(t, ok)
		assert.Equal(t, "rockets", profile["bio"])

		projects, err := db.Query(testutil.Projects).
			OrderBy("id", adapter.Asc).
			With("account", testutil.ProjectAccount).
			All(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 3)
		owners := make([]any, len(projects))
		for i, p := range projects {
			owners[i] = p["account"].(adapter.Row)["name"]
		}
		assert.Equal(t, []any{"Acme", "Acme", "Globex"}, owners)
	})
}

func TestWith_HasManyThroughDeduplicates(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		rows, err := db.Query(testutil.Projects).
			OrderBy("id", adapter.Asc).
			With("tags", testutil.ProjectTags).
			All(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 3)

		labels := func(row adapter.Row) []any {
			var out []any
			for _, tag := range related(t, row, "tags") {
				out = append(out, tag["label"])
			}
			return out
		}
		// Project 10 links tag 1 twice; it appears once.
		assert.Equal(t, []any{"go", "sql"}, labels(rows[0]))
		assert.Equal(t, []any{"sql"}, labels(rows[1]))
		assert.Nil(t, labels(rows[2]))
	})
}

func TestWith_RelationModifiers(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		byPosition := table.Must(testutil.Accounts.HasMany(testutil.Projects)).
			Where(predicate.Ne("name", "C")).
			OrderBy("position", adapter.Asc)

		rows, err := db.Query(testutil.Accounts).
			OrderBy("id", adapter.Asc).
			With("projects", byPosition).
			All(context.Background())
		require.NoError(t, err)
		require.Len(t, rows, 3)

		assert.Equal(t, []string{"B", "A"}, names(related(t, rows[0], "projects")))
		assert.Empty(t, related(t, rows[1], "projects"))
	})
}

func TestWith_LimitAndOffsetPerParent(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		ctx := context.Background()
		load := func(rel *table.Relation) []adapter.Row {
			rows, err := db.Query(testutil.Accounts).
				Where(predicate.InList("id", []int{1, 2})).
				OrderBy("id", adapter.Asc).
				With("projects", rel).
				All(ctx)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			return rows
		}

		first := load(testutil.AccountProjects.Limit(1))
		assert.Equal(t, []string{"A"}, names(related(t, first[0], "projects")))
		assert.Equal(t, []string{"C"}, names(related(t, first[1], "projects")))

		rest := load(testutil.AccountProjects.Offset(1))
		assert.Equal(t, []string{"B"}, names(related(t, rest[0], "projects")))
		assert.Empty(t, related(t, rest[1], "projects"))

		second := load(testutil.AccountProjects.Offset(1).Limit(1))
		assert.Equal(t, []string{"B"}, names(related(t, second[0], "projects")))
		assert.Empty(t, related(t, second[1], "projects"))

		projects, err := db.Query(testutil.Projects).
			Where(predicate.InList("id", []int{10, 11})).
			OrderBy("id", adapter.Asc).
			With("tags", testutil.ProjectTags.Limit(1)).
			All(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 2)
		tags := related(t, projects[0], "tags")
		require.Len(t, tags, 1)
		assert.Equal(t, "go", tags[0]["label"])
		tags = related(t, projects[1], "tags")
		require.Len(t, tags, 1)
		assert.Equal(t, "sql", tags[0]["label"])

		acct, err := db.Query(testutil.Accounts).
			With("profile", testutil.AccountProfile.Offset(1)).
			Find(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, acct["profile"])
	})
}

func TestWith_Nested(t *testing.T) {
	backends(t, func(t *testing.T, db *Database) {
		withTags := testutil.AccountProjects.With("tags", testutil.ProjectTags)

		acct, err := db.Query(testutil.Accounts).With("projects", withTags).Find(context.Background(), 1)
		require.NoError(t, err)
		projects := related(t, acct, "projects")
		require.Len(t, projects, 2)
		assert.Len(t, related(t, projects[0], "tags"), 2)
		assert.Len(t, related(t, projects[1], "tags"), 1)
	})
}

func TestWith_CompositeKeys(t *testing.T) {
	memberships := table.Must(testutil.Memberships.BelongsTo(testutil.Projects))
	assignments := table.MustNew("assignments", []table.ColumnDef{
		table.Column("id", nil),
		table.Column("account_id", nil),
		table.Column("project_id", nil),
		table.Column("task", nil),
	})
	rel := table.Must(testutil.Memberships.HasMany(assignments,
		table.SourceKey("account_id", "project_id"),
		table.TargetKey("account_id", "project_id"),
	)).OrderBy("id", adapter.Asc)

	a := memadapter.New(append(testutil.Tables(), assignments))
	for name, rows := range testutil.SeedRows() {
		require.NoError(t, a.Load(name, rows))
	}
	require.NoError(t, a.Load("assignments", []adapter.Row{
		{"id": int64(1), "account_id": int64(1), "project_id": int64(10), "task": "plan"},
		{"id": int64(2), "account_id": int64(2), "project_id": int64(10), "task": "review"},
		{"id": int64(3), "account_id": int64(1), "project_id": int64(10), "task": "ship"},
		{"id": int64(4), "account_id": int64(1), "project_id": int64(11), "task": "other"},
	}))
	db := New(a, WithLogger(discard))

	rows, err := db.Query(testutil.Memberships).
		OrderBy("account_id", adapter.Asc).
		With("assignments", rel).
		With("project", memberships).
		All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	tasks := func(row adapter.Row) []any {
		var out []any
		for _, r := range related(t, row, "assignments") {
			out = append(out, r["task"])
		}
		return out
	}
	assert.Equal(t, []any{"plan", "ship"}, tasks(rows[0]))
	assert.Equal(t, []any{"review"}, tasks(rows[1]))
	assert.Equal(t, "A", rows[0]["project"].(adapter.Row)["name"])
}

func TestWith_RequiresKeyColumnsInSelection(t *testing.T) {
	db, _ := newMemDB(t)

	_, err := db.Query(testutil.Accounts).
		Select("name").
		With("projects", testutil.AccountProjects).
		All(context.Background())
	require.Error(t, err)
	assert.True(t, dberr.IsQuery(err))
	assert.ErrorContains(t, err, `load relation projects`)
	assert.ErrorContains(t, err, `needs column "id"`)
}

func TestKeyFilter(t *testing.T) {
	single := keyFilter([]string{"id"}, [][]any{{1}, {2}})
	assert.Equal(t, predicate.InList("id", []any{1, 2}), single)

	composite := keyFilter([]string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	assert.Equal(t, predicate.Or(
		predicate.And(predicate.Eq("a", 1), predicate.Eq("b", "x")),
		predicate.And(predicate.Eq("a", 2), predicate.Eq("b", "y")),
	), composite)
}

func TestTupleKey_NormalizesNumbers(t *testing.T) {
	a, ok := tupleKey(adapter.Row{"id": int64(7), "k": "x"}, []string{"id", "k"})
	require.True(t, ok)
	b, ok := tupleKey(adapter.Row{"id": float64(7), "k": []byte("x")}, []string{"id", "k"})
	require.True(t, ok)
	assert.Equal(t, a, b)

	_, ok = tupleKey(adapter.Row{"id": nil}, []string{"id"})
	assert.False(t, ok)
	_, ok = tupleKey(adapter.Row{}, []string{"id"})
	assert.False(t, ok)
}

func TestTuples_DistinctInFirstSeenOrder(t *testing.T) {
	rows := []adapter.Row{{"a": 2}, {"a": 1}, {"a": int64(2)}, {"a": nil}, {"a": 3}}
	assert.Equal(t, [][]any{{2}, {1}, {3}}, tuples(rows, []string{"a"}))
}
