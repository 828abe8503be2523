package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	pterm.DisableColor()
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, "", "parse", "select * from t where id = ?", "--type", "jp1=Int32")
	require.NoError(t, err)

	assert.Contains(t, out, "DATA_QUERY")
	assert.Contains(t, out, "$jp1")
	assert.Contains(t, out, "DECLARE $jp1 AS Int32;")
	assert.Contains(t, out, "--!syntax_v1")
	assert.Contains(t, out, "where id = $jp1")
}

func TestParseCommandJSON(t *testing.T) {
	out, err := run(t, "scan select * from t", "parse", "--json")
	require.NoError(t, err)

	var view parseView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "SCAN_QUERY", view.Kind)
	assert.Empty(t, view.Params)
	assert.NotContains(t, view.YQL, "scan ")
}

func TestParseCommandDeclared(t *testing.T) {
	out, err := run(t, "", "parse", "--json", "declare $id as Int32; select * from t where id = $id")
	require.NoError(t, err)

	var view parseView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Params, 1)
	assert.Equal(t, paramView{Name: "$id", Type: "Int32", Declared: true, Position: 1}, view.Params[0])
}

func TestParseCommandFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yql")
	require.NoError(t, os.WriteFile(path, []byte("create table t (id Int32, primary key (id))"), 0o600))

	out, err := run(t, "", "parse", "--file", path, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "SCHEME_QUERY"`)
}

func TestParseCommandSet(t *testing.T) {
	out, err := run(t, "", "--set", "enforceSqlV1=false", "parse", "--json", "select 1")
	require.NoError(t, err)
	assert.NotContains(t, out, "syntax_v1")
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"empty", []string{"parse"}, "no query text"},
		{"bad type flag", []string{"parse", "select ?", "--type", "jp1"}, "expected name=Type"},
		{"bad type", []string{"parse", "select ?", "--type", "jp1=Nope"}, "invalid --type"},
		{"bad set", []string{"--set", "autoCommit", "parse", "select 1"}, "expected name=value"},
		{"unknown property", []string{"--set", "nope=1", "parse", "select 1"}, "unknown property"},
		{"missing config", []string{"--config", "/nonexistent/ydbsql.toml", "parse", "select 1"}, "load options"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPropertiesCommand(t *testing.T) {
	out, err := run(t, "", "properties")
	require.NoError(t, err)
	assert.Contains(t, out, "scanQueryTxMode")
	assert.Contains(t, out, "deadlineTimeout")
	assert.Contains(t, out, "SERIALIZABLE")
}

func TestPropertiesCommandChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ydbsql.toml")
	require.NoError(t, os.WriteFile(path, []byte("maxRetries = 9\n"), 0o600))

	out, err := run(t, "", "--config", path, "--set", "autoCommit=false", "properties", "--changed")
	require.NoError(t, err)
	assert.Contains(t, out, "maxRetries")
	assert.Contains(t, out, "autoCommit")
	assert.NotContains(t, out, "scanQueryTxMode")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ydbsql "))
}
