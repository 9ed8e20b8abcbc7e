package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datatable/internal/adapter"
)

func init() {
	color.NoColor = true
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("QUERY", "unknown column", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QUERY", resp.Error.Code)
	assert.Equal(t, "unknown column", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Error("CONSTRAINT", "UNIQUE constraint failed", nil)
	require.NoError(t, err)
	assert.Equal(t, "Error [CONSTRAINT]: UNIQUE constraint failed\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	err := formatter.Error("VALIDATION", "invalid email", []string{"does not match"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [VALIDATION]")
	assert.Contains(t, buf.String(), "Details: [does not match]")
}

func TestOutputFormatter_TextRows(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	rows := []adapter.Row{
		{"id": int64(1), "name": "Acme", "projects": []adapter.Row{{"id": int64(10)}}},
		{"id": int64(2), "name": nil},
	}
	require.NoError(t, formatter.Rows(rows, []string{"name", "id"}))

	assert.Equal(t, "name  id  projects\n"+
		"Acme  1   [{\"id\":10}]\n"+
		"NULL  2   NULL\n"+
		"(2 rows)\n", buf.String())
}

func TestOutputFormatter_EmptyRows(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: buf}).Rows(nil, nil))
	assert.Equal(t, "(no rows)\n", buf.String())

	buf.Reset()
	require.NoError(t, (&OutputFormatter{Format: "json", Writer: buf}).Rows(nil, nil))
	assert.JSONEq(t, `{"status":"ok","data":[]}`, buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("query %s", "accounts")

			assert.Empty(t, buf.String())
			if tt.wantLog {
				assert.Equal(t, "query accounts\n", errBuf.String())
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	wrapped := WrapExitError(ExitFailure, "statement failed", errors.New("boom"))
	assert.Equal(t, "statement failed: boom", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
