package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/dberr"
	"github.com/roach88/datatable/internal/predicate"
	"github.com/roach88/datatable/internal/schema"
)

func fixtures(t *testing.T) (accounts, projects, tags, projectTags *Table) {
	t.Helper()
	accounts = MustNew("accounts", []ColumnDef{
		Column("id", schema.Int()),
		Column("name", schema.String()),
	})
	projects = MustNew("projects", []ColumnDef{
		Column("id", schema.Int()),
		Column("account_id", schema.Int()),
		Column("name", schema.String()),
	})
	tags = MustNew("tags", []ColumnDef{
		Column("id", schema.Int()),
		Column("label", schema.String()),
	})
	projectTags = MustNew("project_tags", []ColumnDef{
		Column("project_id", schema.Int()),
		Column("tag_id", schema.Int()),
	}, WithPrimaryKey("project_id", "tag_id"))
	return
}

func TestNew_DefaultPrimaryKey(t *testing.T) {
	tbl, err := New("users", []ColumnDef{
		Column("id", schema.Int()),
		Column("email", schema.String()),
	})
	require.NoError(t, err)

	assert.Equal(t, "users", tbl.Name())
	assert.Equal(t, []string{"id"}, tbl.PrimaryKey())
	assert.Equal(t, []string{"id", "email"}, tbl.Columns())
	assert.True(t, tbl.HasColumn("email"))
	assert.False(t, tbl.HasColumn("missing"))
}

func TestNew_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		columns []ColumnDef
		opts    []Option
		errMsg  string
	}{
		{
			name:    "no id and no primary key",
			columns: []ColumnDef{Column("email", nil)},
			errMsg:  "no primary key given and no id column",
		},
		{
			name:    "missing primary key column",
			columns: []ColumnDef{Column("id", nil)},
			opts:    []Option{WithPrimaryKey("uuid")},
			errMsg:  `primary key column "uuid" does not exist`,
		},
		{
			name:    "duplicate column",
			columns: []ColumnDef{Column("id", nil), Column("id", nil)},
			errMsg:  `duplicate column "id"`,
		},
		{
			name:    "empty column name",
			columns: []ColumnDef{Column("", nil)},
			errMsg:  "empty name",
		},
		{
			name:    "missing timestamp column",
			columns: []ColumnDef{Column("id", nil)},
			opts:    []Option{WithTimestamps("created_at", "")},
			errMsg:  `timestamp column "created_at" does not exist`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("things", tc.columns, tc.opts...)
			require.Error(t, err)
			assert.True(t, dberr.IsQuery(err))
			assert.Contains(t, err.Error(), tc.errMsg)
			assert.Contains(t, err.Error(), "(table=things)")
		})
	}
}

func TestNew_NilSchemaAcceptsAnything(t *testing.T) {
	tbl := MustNew("things", []ColumnDef{{Name: "id"}})
	s, ok := tbl.Schema("id")
	require.True(t, ok)
	assert.True(t, s.Parse(struct{}{}).OK())
}

func TestTable_C(t *testing.T) {
	accounts, _, _, _ := fixtures(t)

	ref := accounts.C("name")
	assert.Equal(t, "accounts.name", ref.String())
	assert.NotNil(t, ref.Schema)

	cmp := predicate.Eq(ref, "acme").(predicate.Comparison)
	assert.Equal(t, "accounts.name", cmp.Column)
	assert.Equal(t, predicate.ValueLiteral, cmp.ValueType)

	assert.Panics(t, func() { accounts.C("missing") })
	assert.Len(t, accounts.Refs(), 2)
}

func TestTable_PrimaryKeyIsCopied(t *testing.T) {
	accounts, _, _, _ := fixtures(t)
	pk := accounts.PrimaryKey()
	pk[0] = "mutated"
	assert.Equal(t, []string{"id"}, accounts.PrimaryKey())
}

func TestHasMany_DefaultKeys(t *testing.T) {
	accounts, projects, _, _ := fixtures(t)

	rel, err := accounts.HasMany(projects)
	require.NoError(t, err)

	assert.Equal(t, KindHasMany, rel.Kind())
	assert.Equal(t, Many, rel.Cardinality())
	assert.Same(t, accounts, rel.Source())
	assert.Same(t, projects, rel.Target())
	assert.Equal(t, []string{"id"}, rel.SourceKey())
	assert.Equal(t, []string{"account_id"}, rel.TargetKey())
	assert.Nil(t, rel.Through())
}

func TestHasOne_Cardinality(t *testing.T) {
	accounts, projects, _, _ := fixtures(t)

	rel, err := accounts.HasOne(projects)
	require.NoError(t, err)
	assert.Equal(t, KindHasOne, rel.Kind())
	assert.Equal(t, One, rel.Cardinality())
}

func TestBelongsTo_DefaultKeys(t *testing.T) {
	accounts, projects, _, _ := fixtures(t)

	rel, err := projects.BelongsTo(accounts)
	require.NoError(t, err)

	assert.Equal(t, One, rel.Cardinality())
	assert.Equal(t, []string{"account_id"}, rel.SourceKey())
	assert.Equal(t, []string{"id"}, rel.TargetKey())
}

func TestRelation_KeyValidation(t *testing.T) {
	accounts, projects, _, projectTags := fixtures(t)

	_, err := accounts.HasMany(projects, TargetKey("owner_id"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"owner_id" does not exist`)

	_, err = accounts.HasMany(projects, SourceKey("id", "name"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key lengths differ")

	// Composite primary key against the single inferred foreign key.
	_, err = projectTags.HasMany(projects)
	require.Error(t, err)
	assert.True(t, dberr.IsQuery(err))
}

func TestHasManyThrough(t *testing.T) {
	_, projects, tags, projectTags := fixtures(t)

	via := Must(projects.HasMany(projectTags, TargetKey("project_id")))
	rel, err := projects.HasManyThrough(tags, via)
	require.NoError(t, err)

	assert.Equal(t, KindHasManyThrough, rel.Kind())
	assert.Equal(t, Many, rel.Cardinality())
	assert.Equal(t, []string{"id"}, rel.SourceKey())
	assert.Equal(t, []string{"project_id"}, rel.TargetKey())

	through := rel.Through()
	require.NotNil(t, through)
	assert.Same(t, via, through.Relation)
	assert.Equal(t, []string{"tag_id"}, through.SourceKey)
	assert.Equal(t, []string{"id"}, through.TargetKey)
}

func TestHasManyThrough_WrongSource(t *testing.T) {
	accounts, projects, tags, projectTags := fixtures(t)

	via := Must(projects.HasMany(projectTags, TargetKey("project_id")))
	_, err := accounts.HasManyThrough(tags, via)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "through relation starts at projects, not accounts")
}

func TestHasManyThrough_MissingBridgeColumn(t *testing.T) {
	_, projects, tags, projectTags := fixtures(t)

	via := Must(projects.HasMany(projectTags, TargetKey("project_id")))
	_, err := projects.HasManyThrough(tags, via, ThroughSourceKey("label_id"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"label_id" does not exist`)
}

func TestRelation_ModifiersAreImmutable(t *testing.T) {
	accounts, projects, _, _ := fixtures(t)

	base := Must(accounts.HasMany(projects))
	ordered := base.OrderBy("name", adapter.Asc)
	limited := ordered.Limit(2).Offset(1)
	filtered := limited.Where(predicate.Where{"name": "x"})

	assert.Empty(t, base.Modifiers().OrderBy)
	assert.Len(t, ordered.Modifiers().OrderBy, 1)
	assert.Nil(t, ordered.Modifiers().Limit)
	require.NotNil(t, limited.Modifiers().Limit)
	assert.Equal(t, 2, *limited.Modifiers().Limit)
	assert.Equal(t, 1, *limited.Modifiers().Offset)
	assert.Empty(t, limited.Modifiers().Where)

	// Shorthand predicates are normalized when attached.
	require.Len(t, filtered.Modifiers().Where, 1)
	assert.Equal(t, predicate.And(predicate.Eq("name", "x")), filtered.Modifiers().Where[0])
}

func TestRelation_With(t *testing.T) {
	accounts, projects, _, _ := fixtures(t)

	owner := Must(projects.BelongsTo(accounts))
	first := Must(accounts.HasMany(projects))
	withOwner := first.With("account", owner)
	replaced := withOwner.With("account", owner.Limit(1))

	assert.Empty(t, first.Modifiers().With)
	require.Len(t, withOwner.Modifiers().With, 1)
	assert.Same(t, owner, withOwner.Modifiers().With[0].Relation)
	require.Len(t, replaced.Modifiers().With, 1)
	assert.NotSame(t, owner, replaced.Modifiers().With[0].Relation)
}

func TestForeignKey_Singularizes(t *testing.T) {
	assert.Equal(t, "account_id", ForeignKey(MustNew("accounts", []ColumnDef{Column("id", nil)})))
	assert.Equal(t, "category_id", ForeignKey(MustNew("categories", []ColumnDef{Column("id", nil)})))
	assert.Equal(t, "person_id", ForeignKey(MustNew("people", []ColumnDef{Column("id", nil)})))
}
