package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchCountOne(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")

	out, stderr, err := execute(t, "--db", db, "watch", "fechamento", "--count", "1")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Watching adhoc on fechamento")
	assert.Contains(t, out, "-- generation 1 (loaded")
	assert.Contains(t, out, "f-mar")
	assert.Contains(t, out, "(1 rows)")
}

func TestWatchKeepsGoingOnQueryError(t *testing.T) {
	db := testDB(t)

	out, _, err := execute(t, "--db", db, "watch", "fechamento", "--order", "inexistente", "--count", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "(errored")
	assert.Contains(t, out, "Error [QUERY]")
}

func TestWatchJSON(t *testing.T) {
	db := testDB(t)
	dir := writeQueries(t, testQueries)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")

	out, stderr, err := execute(t, "--db", db, "--queries", dir, "--format", "json",
		"watch", "historico_fechamento", "--count", "1")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "Watching")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Name       string           `json:"name"`
			Generation int64            `json:"generation"`
			Rows       []map[string]any `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.Equal(t, "historico_fechamento", resp.Data.Name)
	assert.Equal(t, int64(1), resp.Data.Generation)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "f-mar", resp.Data.Rows[0]["id"])
}
