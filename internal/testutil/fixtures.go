package testutil

import (
	"github.com/roach88/datatable/internal/adapter"
	"github.com/roach88/datatable/internal/schema"
	"github.com/roach88/datatable/internal/table"
)

// Fixture tables shared by the database, harness and CLI tests.
//
// accounts 1 and 2 are active, 3 is paused. Account 1 owns projects 10 and
// 11, account 2 owns project 12. Project 10 is linked to tag 1 twice and to
// tag 2 once, so its tags exercise through-relation de-duplication.
var (
	Accounts = table.MustNew("accounts", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("email", schema.String().Match(`^[^@\s]+@[^@\s]+$`)),
		table.Column("name", schema.String().Min(1)),
		table.Column("status", schema.String().OneOf("active", "paused", "closed")),
		table.Column("created_at", schema.Nullable(schema.Time())),
		table.Column("updated_at", schema.Nullable(schema.Time())),
	}, table.WithTimestamps("created_at", "updated_at"))

	Profiles = table.MustNew("profiles", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("account_id", schema.Int()),
		table.Column("bio", schema.Nullable(schema.String())),
	})

	Projects = table.MustNew("projects", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("account_id", schema.Int()),
		table.Column("name", schema.String().Min(1)),
		table.Column("position", schema.Int().Min(0)),
	})

	Tags = table.MustNew("tags", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("label", schema.String()),
	})

	ProjectTagLinks = table.MustNew("project_tags", []table.ColumnDef{
		table.Column("id", schema.Int()),
		table.Column("project_id", schema.Int()),
		table.Column("tag_id", schema.Int()),
	})

	Memberships = table.MustNew("memberships", []table.ColumnDef{
		table.Column("account_id", schema.Int()),
		table.Column("project_id", schema.Int()),
		table.Column("role", schema.String().OneOf("owner", "editor", "viewer")),
	}, table.WithPrimaryKey("account_id", "project_id"))
)

// Fixture relations.
var (
	AccountProjects = table.Must(Accounts.HasMany(Projects)).OrderBy("id", adapter.Asc)
	AccountProfile  = table.Must(Accounts.HasOne(Profiles))
	ProjectAccount  = table.Must(Projects.BelongsTo(Accounts))
	ProjectLinks    = table.Must(Projects.HasMany(ProjectTagLinks))
	ProjectTags     = table.Must(Projects.HasManyThrough(Tags, ProjectLinks)).OrderBy("id", adapter.Asc)
	ProjectMembers  = table.Must(Projects.HasMany(Memberships)).OrderBy("account_id", adapter.Asc)
)

// Tables lists every fixture table in dependency order.
func Tables() []*table.Table {
	return []*table.Table{Accounts, Profiles, Projects, Tags, ProjectTagLinks, Memberships}
}

// SQLiteSchema creates the fixture tables on SQLite.
var SQLiteSchema = []string{
	`create table accounts (
		id integer primary key,
		email text not null unique,
		name text not null,
		status text not null,
		created_at datetime,
		updated_at datetime
	)`,
	`create table profiles (
		id integer primary key,
		account_id integer not null unique references accounts(id),
		bio text
	)`,
	`create table projects (
		id integer primary key,
		account_id integer not null references accounts(id),
		name text not null,
		position integer not null default 0
	)`,
	`create table tags (
		id integer primary key,
		label text not null unique
	)`,
	`create table project_tags (
		id integer primary key,
		project_id integer not null references projects(id),
		tag_id integer not null references tags(id)
	)`,
	`create table memberships (
		account_id integer not null references accounts(id),
		project_id integer not null references projects(id),
		role text not null,
		primary key (account_id, project_id)
	)`,
}

// SeedRows returns a fresh copy of the fixture rows, keyed by table name.
func SeedRows() map[string][]adapter.Row {
	return map[string][]adapter.Row{
		"accounts": {
			{"id": int64(1), "email": "ops@acme.test", "name": "Acme", "status": "active", "created_at": nil, "updated_at": nil},
			{"id": int64(2), "email": "it@globex.test", "name": "Globex", "status": "active", "created_at": nil, "updated_at": nil},
			{"id": int64(3), "email": "hr@initech.test", "name": "Initech", "status": "paused", "created_at": nil, "updated_at": nil},
		},
		"profiles": {
			{"id": int64(1), "account_id": int64(1), "bio": "rockets"},
		},
		"projects": {
			{"id": int64(10), "account_id": int64(1), "name": "A", "position": int64(2)},
			{"id": int64(11), "account_id": int64(1), "name": "B", "position": int64(1)},
			{"id": int64(12), "account_id": int64(2), "name": "C", "position": int64(1)},
		},
		"tags": {
			{"id": int64(1), "label": "go"},
			{"id": int64(2), "label": "sql"},
			{"id": int64(3), "label": "unused"},
		},
		"project_tags": {
			{"id": int64(100), "project_id": int64(10), "tag_id": int64(1)},
			{"id": int64(101), "project_id": int64(10), "tag_id": int64(1)},
			{"id": int64(102), "project_id": int64(10), "tag_id": int64(2)},
			{"id": int64(103), "project_id": int64(11), "tag_id": int64(2)},
		},
		"memberships": {
			{"account_id": int64(1), "project_id": int64(10), "role": "owner"},
			{"account_id": int64(2), "project_id": int64(10), "role": "viewer"},
		},
	}
}
