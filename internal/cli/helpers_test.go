package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testQueries = `package queries

query: latest_fechamento: {
	description: "Most recent monthly closing"
	from:        "fechamento"
	order:       "data_fechamento desc"
	limit:       1
	arity:       "one"
}

query: historico_fechamento: {
	from:    "fechamento"
	columns: ["id", "competencia", "status"]
	order:   "data_fechamento desc"
}
`

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

// testDB returns the path of a fresh SQLite database with the schema
// applied.
func testDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livesync.db")
	_, _, err := execute(t, "--db", path, "init", t.TempDir())
	require.NoError(t, err)
	return path
}

// writeQueries writes content as a definitions file in a new directory.
func writeQueries(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queries.cue"), []byte(content), 0o644))
	return dir
}

// insertFechamento writes one closing through the exec command.
func insertFechamento(t *testing.T, db, id, competencia, data string) {
	t.Helper()
	_, _, err := execute(t, "--db", db, "exec", "insert", "fechamento",
		"--set", "id="+id,
		"--set", "competencia="+competencia,
		"--set", "data_fechamento="+data)
	require.NoError(t, err)
}
