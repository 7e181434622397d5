package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
)

func TestChangesEmpty(t *testing.T) {
	db := testDB(t)

	out, _, err := execute(t, "--db", db, "changes")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes.")
}

func TestChangesText(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")
	_, _, err := execute(t, "--db", db, "exec", "delete", "fechamento", "f-mar")
	require.NoError(t, err)

	out, _, err := execute(t, "--db", db, "changes")
	require.NoError(t, err)
	assert.Contains(t, out, "INSERT")
	assert.Contains(t, out, "DELETE")
	assert.Contains(t, out, "f-mar")
	assert.Contains(t, out, "(2 changes, last seq 2)")
}

func TestChangesFiltersJSON(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")
	insertFechamento(t, db, "f-apr", "2024-04", "2024-04-30")
	_, _, err := execute(t, "--db", db, "exec", "insert", "tributacao",
		"--set", "id=t-1", "--set", "proposta_id=p-1", "--set", "regime=lucro_presumido")
	require.NoError(t, err)

	out, _, err := execute(t, "--db", db, "--format", "json", "changes", "--after", "1", "--table", "fechamento")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   ChangesResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Changes, 1)
	assert.Equal(t, "f-apr", resp.Data.Changes[0].RowID)
	assert.Equal(t, ir.EventInsert, resp.Data.Changes[0].Kind)
	assert.Equal(t, int64(3), resp.Data.LastSeq)
}

func TestChangesLimit(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-jan", "2024-01", "2024-01-31")
	insertFechamento(t, db, "f-fev", "2024-02", "2024-02-29")
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")

	out, _, err := execute(t, "--db", db, "--format", "json", "changes", "--limit", "2")
	require.NoError(t, err)

	var resp struct {
		Data ChangesResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.Changes, 2)
	assert.Equal(t, int64(3), resp.Data.LastSeq)
}

func TestChangesRequiresSQLite(t *testing.T) {
	_, _, err := execute(t, "--driver", "postgres", "--db", "postgres://localhost/none", "changes")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "sqlite")
}
