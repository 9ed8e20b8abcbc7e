package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs("../harness/testdata/schema")
	require.NoError(t, err)
	return dir
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	unsetEnv(t)
	cmd := newRootCommand(afero.NewMemMapFs())
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--schema", schemaDir(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, data any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, data))
}

// seededDB applies the schema to a fresh SQLite file and inserts accounts.
func seededDB(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "app.db")

	_, err := execute(t, "--dsn", dsn, "ddl", "--apply")
	require.NoError(t, err)

	for _, args := range [][]string{
		{"1", "a@acme.io", "Acme", "active"},
		{"2", "g@globex.io", "Globex", "paused"},
		{"3", "i@initech.io", "Initech", "active"},
	} {
		_, err := execute(t, append([]string{"--dsn", dsn, "exec",
			"insert into accounts (id, email, name, status) values (?, ?, ?, ?)"}, args...)...)
		require.NoError(t, err)
	}
	_, err = execute(t, "--dsn", dsn, "exec",
		"insert into projects (id, account_id, name, position) values (10, 1, 'A', 1), (11, 1, 'B', 2)")
	require.NoError(t, err)
	return dsn
}

func TestTablesCommand(t *testing.T) {
	out, err := execute(t, "tables", "--format", "json")
	require.NoError(t, err)

	var tables []TableInfo
	decodeData(t, out, &tables)
	require.Len(t, tables, 6)
	assert.Equal(t, "accounts", tables[0].Name)
	assert.Equal(t, []string{"id"}, tables[0].PrimaryKey)
	assert.Equal(t, []string{"projects"}, tables[0].Relations)
	assert.Equal(t, ColumnInfo{Name: "email", Type: "string"}, tables[0].Columns[1])

	var memberships TableInfo
	for _, tb := range tables {
		if tb.Name == "memberships" {
			memberships = tb
		}
	}
	assert.Equal(t, []string{"account_id", "project_id"}, memberships.PrimaryKey)
}

func TestTablesCommand_Text(t *testing.T) {
	out, err := execute(t, "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "accounts\n")
	assert.Contains(t, out, "  * id int\n")
	assert.Contains(t, out, "  relations: account, links, tags\n")
}

func TestTablesCommand_BadSchema(t *testing.T) {
	unsetEnv(t)
	cmd := newRootCommand(afero.NewMemMapFs())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--schema", filepath.Join(t.TempDir(), "missing"), "tables"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestDDLCommand(t *testing.T) {
	out, err := execute(t, "ddl")
	require.NoError(t, err)
	assert.Contains(t, out, `create table if not exists "accounts"`)
	assert.Contains(t, out, `"id" INTEGER PRIMARY KEY`)

	out, err = execute(t, "--driver", "postgres", "ddl", "--format", "json")
	require.NoError(t, err)
	var data struct {
		Statements []string `json:"statements"`
	}
	decodeData(t, out, &data)
	require.Len(t, data.Statements, 6)
	assert.Contains(t, data.Statements[0], "GENERATED BY DEFAULT AS IDENTITY")
}

func TestDDLCommand_UnknownDriver(t *testing.T) {
	_, err := execute(t, "--driver", "oracle", "ddl")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQueryCommand(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "query", "accounts",
		"--where", "status=active", "--select", "id,name", "--order", "id:desc", "--format", "json")
	require.NoError(t, err)

	var rows []map[string]any
	decodeData(t, out, &rows)
	assert.Equal(t, []map[string]any{
		{"id": float64(3), "name": "Initech"},
		{"id": float64(1), "name": "Acme"},
	}, rows)
}

func TestQueryCommand_WithRelation(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "query", "accounts",
		"--select", "id", "--order", "id", "--limit", "1", "--with", "projects", "--format", "json")
	require.NoError(t, err)

	var rows []struct {
		ID       int `json:"id"`
		Projects []struct {
			Name string `json:"name"`
		} `json:"projects"`
	}
	decodeData(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].ID)
	require.Len(t, rows[0].Projects, 2)
	assert.Equal(t, "A", rows[0].Projects[0].Name)
}

func TestQueryCommand_Text(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "query", "accounts", "--select", "id,name", "--order", "id", "--offset", "2")
	require.NoError(t, err)
	assert.Equal(t, "id  name\n3   Initech\n(1 rows)\n", out)
}

func TestQueryCommand_Errors(t *testing.T) {
	dsn := seededDB(t)

	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"unknown table", []string{"query", "widgets"}, ExitCommandError, `unknown table "widgets"`},
		{"unknown relation", []string{"query", "accounts", "--with", "owners"}, ExitCommandError, `unknown relation "owners" on accounts`},
		{"bad where", []string{"query", "accounts", "--where", "status"}, ExitCommandError, "want col=value"},
		{"bad order", []string{"query", "accounts", "--order", "id:up"}, ExitCommandError, "must be asc or desc"},
		{"unknown column", []string{"query", "accounts", "--where", "nickname=x"}, ExitFailure, "statement failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--dsn", dsn}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestQueryCommand_ReportsEngineError(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "query", "accounts", "--where", "nickname=x", "--format", "json")
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "QUERY", resp.Error.Code)
}

func TestCountCommand(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "count", "accounts", "--where", "status=active")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = execute(t, "--dsn", dsn, "count", "projects", "--format", "json")
	require.NoError(t, err)
	var data map[string]int64
	decodeData(t, out, &data)
	assert.Equal(t, int64(2), data["count"])
}

func TestExecCommand(t *testing.T) {
	dsn := seededDB(t)

	out, err := execute(t, "--dsn", dsn, "exec", "update accounts set status = ? where status = ?", "closed", "paused")
	require.NoError(t, err)
	assert.Equal(t, "1 rows affected\n", out)

	out, err = execute(t, "--dsn", dsn, "exec", "select name from accounts where id = :id", "--param", "id=2", "--format", "json")
	require.NoError(t, err)
	var res struct {
		Rows []map[string]any `json:"rows"`
	}
	decodeData(t, out, &res)
	assert.Equal(t, []map[string]any{{"name": "Globex"}}, res.Rows)
}

func TestExecCommand_Errors(t *testing.T) {
	dsn := seededDB(t)

	_, err := execute(t, "--dsn", dsn, "exec", "select 1 where 1 = :a", "1", "--param", "a=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")

	_, err = execute(t, "--driver", "memory", "exec", "select 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a SQL driver")

	_, err = execute(t, "exec", "select 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required for driver sqlite3")

	out, err := execute(t, "--dsn", dsn, "exec", "insert into accounts (id, email, name, status) values (1, 'x@y.io', 'X', 'active')")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [CONSTRAINT]")
}

func TestParseValue(t *testing.T) {
	assert.Nil(t, parseValue("null"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, int64(-4), parseValue("-4"))
	assert.Equal(t, 2.5, parseValue("2.5"))
	assert.Equal(t, "inf", parseValue("inf"))
	assert.Equal(t, "a@acme.io", parseValue("a@acme.io"))
}

func TestTestCommand(t *testing.T) {
	out, err := execute(t, "test", "../harness/testdata/scenarios", "--filter", "crud", "--backend", "memory,sqlite3")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ crud (memory, sqlite3)")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_Golden(t *testing.T) {
	goldenDir := t.TempDir()

	_, err := execute(t, "test", "../harness/testdata/scenarios", "--filter", "upsert",
		"--backend", "memory", "--golden", goldenDir, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(goldenDir, "upsert.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/upsert.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	out, err := execute(t, "test", "../harness/testdata/scenarios", "--filter", "upsert",
		"--golden", goldenDir, "--format", "json")
	require.NoError(t, err)
	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Passed)
	assert.Len(t, res.Scenarios[0].Backends, 5)
}

func TestTestCommand_Failures(t *testing.T) {
	dir := t.TempDir()
	scenario := "name: broken\ndescription: expects the wrong count\nschema: " + schemaDir(t) + "\n" +
		"steps:\n  - op: count\n    table: accounts\n    expect: {count: 9}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(scenario), 0o644))

	out, err := execute(t, "test", dir, "--backend", "memory")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "memory: steps[0] (count): count: expected 9, got 0")

	_, err = execute(t, "test", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "test", dir, "--backend", "oracle")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "test", dir, "--update")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
