package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/bulktest"
	"github.com/JonMunkholm/bulkforce/internal/cli"
	"github.com/JonMunkholm/bulkforce/internal/config"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

func lookup(vars map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func sessionEnv(srv *bulktest.Server) map[string]string {
	return map[string]string{
		"SF_INSTANCE_URL":    srv.URL,
		"SF_ACCESS_TOKEN":    bulktest.Token,
		"BULK_POLL_INTERVAL": "5ms",
		"BULK_RATE_LIMIT":    "1000",
		"BULK_RATE_BURST":    "100",
		"LOG_LEVEL":          "error",
	}
}

func run(t *testing.T, vars map[string]string, args ...string) (string, string, error) {
	t.Helper()
	cmd := cli.NewRootCmdWithEnv("1.2.3", lookup(vars))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	srv := bulktest.New(t)
	srv.FailRow = func(r record.Row) string {
		if strings.HasPrefix(r.String("Name"), "bad") {
			return "REQUIRED_FIELD_MISSING: Required fields are missing: [Industry]"
		}
		return ""
	}
	input := writeFile(t, "accounts.csv", "Name\ngood\nbad\nfine\n")

	stdout, _, err := run(t, sessionEnv(srv),
		"load", "--action", "insert", "--object", "Account", "--file", input, "--max-batch-size", "2")

	require.NoError(t, err)
	var res bulkforce.LoadResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestLoad_ToPathWithProgress(t *testing.T) {
	srv := bulktest.New(t)
	input := writeFile(t, "accounts.csv", "Name\na\nb\n")
	out := t.TempDir()

	stdout, stderr, err := run(t, sessionEnv(srv),
		"load", "--action", "insert", "--object", "Account", "--file", input,
		"--max-batch-size", "1", "--to-path", out, "--progress")

	require.NoError(t, err)
	var res bulkforce.LoadResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, []string{filepath.Join(out, "Account_success.csv")}, res.Files)
	assert.FileExists(t, filepath.Join(out, "Account_success.csv"))
	assert.NoFileExists(t, filepath.Join(out, "Account_error.csv"))
	assert.Contains(t, stderr, "batches 2/2 done, 0 failed")
}

func TestLoad_RequiredFlags(t *testing.T) {
	_, _, err := run(t, nil, "load", "--object", "Account")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s)")
}

func TestLoad_NoLoginConfigured(t *testing.T) {
	input := writeFile(t, "accounts.csv", "Name\na\n")

	_, _, err := run(t, map[string]string{"LOG_LEVEL": "error"},
		"load", "--action", "insert", "--object", "Account", "--file", input)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "login requires SF_CLIENT_ID")
}

func TestLoad_MissingFile(t *testing.T) {
	srv := bulktest.New(t)

	_, _, err := run(t, sessionEnv(srv),
		"load", "--action", "insert", "--object", "Account", "--file", filepath.Join(t.TempDir(), "nope.csv"))

	require.Error(t, err)
	assert.Equal(t, "FILE002", bulkforce.MapError(err).Code)
	assert.Zero(t, srv.CloseCalls(), "no job is created for unreadable input")
}

func TestLoad_CloseFailurePrintsResult(t *testing.T) {
	srv := bulktest.New(t)
	srv.FailCloseJob = true
	input := writeFile(t, "accounts.csv", "Name\na\n")

	stdout, _, err := run(t, sessionEnv(srv),
		"load", "--action", "insert", "--object", "Account", "--file", input)

	require.Error(t, err)
	assert.True(t, bulkforce.IsCloseOnly(err))
	var res bulkforce.LoadResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, 1, res.SuccessCount)
}

func TestQuery(t *testing.T) {
	srv := bulktest.New(t)
	srv.QueryParts = [][]record.Row{
		{{{Name: "Id", Value: "001A"}, {Name: "Name", Value: "a"}}},
	}

	stdout, _, err := run(t, sessionEnv(srv), "query", "--object", "Account", "SELECT Id, Name FROM Account")

	require.NoError(t, err)
	var res bulkforce.QueryResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), stdout)
	assert.Equal(t, 1, res.RecordCount)
	assert.Equal(t, "001A", res.Rows[0].String("id"))
}

func TestQuery_RequiresSOQL(t *testing.T) {
	_, _, err := run(t, nil, "query", "--object", "Account")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOQL query is required")
}

func TestDelete(t *testing.T) {
	srv := bulktest.New(t)
	ids := writeFile(t, "Account_success.csv", "id,Name\n001A,a\n001B,b\n")

	stdout, _, err := run(t, sessionEnv(srv),
		"delete", "--object", "Account", "--file", ids, "--id", "001C", "--workers", "2")

	require.NoError(t, err)
	assert.JSONEq(t, `{"object":"Account","requested":3,"deleted":3}`, stdout)
	assert.ElementsMatch(t, []string{"001A", "001B", "001C"}, srv.Deleted())
}

func TestDelete_NoIDs(t *testing.T) {
	_, _, err := run(t, nil, "delete", "--object", "Account")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no record ids given")
}

func TestEnvFile(t *testing.T) {
	srv := bulktest.New(t)
	srv.QueryParts = [][]record.Row{{}}
	envFile := writeFile(t, ".env", strings.Join([]string{
		"SF_INSTANCE_URL=" + srv.URL,
		"SF_ACCESS_TOKEN=" + bulktest.Token,
		"BULK_POLL_INTERVAL=5ms",
	}, "\n"))

	stdout, _, err := run(t, map[string]string{"LOG_LEVEL": "error"},
		"--env-file", envFile, "query", "--object", "Account", "--soql", "SELECT Id FROM Account")

	require.NoError(t, err)
	assert.Contains(t, stdout, `"recordCount": 0`)
}

func TestVersion(t *testing.T) {
	stdout, _, err := run(t, nil, "version")

	require.NoError(t, err)
	assert.Equal(t, "bulkforce 1.2.3\n", stdout)
}
