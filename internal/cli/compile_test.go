package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCompileCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompileText(t *testing.T) {
	dir := writeQueries(t, testQueries)

	out, err := runCompileCmd(t, "text", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 2 query(s)")
	assert.Contains(t, out, "latest_fechamento (fechamento, arity one)")
	assert.Contains(t, out, "Most recent monthly closing")
	assert.Contains(t, out, `SELECT * FROM "fechamento" ORDER BY "data_fechamento" DESC, "id" ASC COLLATE BINARY LIMIT 1`)
	assert.Contains(t, out, "postgres")
}

func TestCompileJSON(t *testing.T) {
	dir := writeQueries(t, `
package queries

query: do_mes: {
	from:  "fechamento"
	where: competencia: "2024-03"
	arity: "one"
}
`)

	out, err := runCompileCmd(t, "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Queries, 1)

	q := resp.Data.Queries[0]
	assert.Equal(t, "do_mes", q.Name)
	assert.NotEmpty(t, q.Hash)
	assert.Equal(t, "fechamento", q.Spec["from"])

	sqlite := q.SQL["sqlite"]
	assert.Contains(t, sqlite.Query, `"competencia" = ?`)
	assert.Equal(t, []any{"2024-03"}, sqlite.Params)

	pg := q.SQL["postgres"]
	assert.Contains(t, pg.Query, `"competencia" = $1`)
}

func TestCompileSameSpecSameHash(t *testing.T) {
	first := writeQueries(t, testQueries)
	second := writeQueries(t, testQueries)

	out1, err := runCompileCmd(t, "json", first)
	require.NoError(t, err)
	out2, err := runCompileCmd(t, "json", second)
	require.NoError(t, err)
	assert.JSONEq(t, out1, out2)
}

func TestCompileDialectFilter(t *testing.T) {
	dir := writeQueries(t, testQueries)

	out, err := runCompileCmd(t, "json", dir, "--dialect", "postgres")
	require.NoError(t, err)

	var resp struct {
		Data CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	for _, q := range resp.Data.Queries {
		assert.Contains(t, q.SQL, "postgres")
		assert.NotContains(t, q.SQL, "sqlite")
	}

	_, err = runCompileCmd(t, "text", dir, "--dialect", "oracle")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileOutputFile(t *testing.T) {
	dir := writeQueries(t, testQueries)
	outFile := filepath.Join(t.TempDir(), "compiled.json")

	out, err := runCompileCmd(t, "text", dir, "-o", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote compiled queries to")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Queries, 2)
}

func TestCompileErrors(t *testing.T) {
	dir := writeQueries(t, `
package queries

query: ordem_ruim: {
	from:  "fechamento"
	order: 42
}

query: Invalida: {
	from: "fechamento"
}
`)

	out, err := runCompileCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "compilation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, "E112")
	assert.Contains(t, out, "E101")
}

func TestCompileErrorsJSON(t *testing.T) {
	dir := writeQueries(t, `
package queries

query: sem_tabela: {
	limit: 3
}
`)

	out, err := runCompileCmd(t, "json", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E102", resp.Error.Code)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	out, err := runCompileCmd(t, "text", "/nonexistent/queries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, out, "queries directory not found")
}
