package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryAdHoc(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")
	insertFechamento(t, db, "f-apr", "2024-04", "2024-04-30")

	out, _, err := execute(t, "--db", db, "query", "fechamento",
		"--order", "data_fechamento desc", "--columns", "id,competencia")
	require.NoError(t, err)

	assert.Contains(t, out, "f-apr")
	assert.Contains(t, out, "f-mar")
	assert.Less(t, strings.Index(out, "f-apr"), strings.Index(out, "f-mar"))
	assert.Contains(t, out, "(2 rows)")
	assert.NotContains(t, out, "data_fechamento")
}

func TestQueryWhere(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")
	insertFechamento(t, db, "f-apr", "2024-04", "2024-04-30")

	out, _, err := execute(t, "--db", db, "query", "fechamento", "--where", "competencia=2024-03")
	require.NoError(t, err)
	assert.Contains(t, out, "f-mar")
	assert.NotContains(t, out, "f-apr")
	assert.Contains(t, out, "(1 rows)")
}

func TestQueryNamedDefinition(t *testing.T) {
	db := testDB(t)
	dir := writeQueries(t, testQueries)
	insertFechamento(t, db, "f-mar", "2024-03", "2024-03-31")
	insertFechamento(t, db, "f-apr", "2024-04", "2024-04-30")

	out, _, err := execute(t, "--db", db, "--queries", dir, "--format", "json", "query", "latest_fechamento")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Name   string           `json:"name"`
			Table  string           `json:"table"`
			Arity  string           `json:"arity"`
			Status string           `json:"status"`
			Rows   []map[string]any `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "latest_fechamento", resp.Data.Name)
	assert.Equal(t, "fechamento", resp.Data.Table)
	assert.Equal(t, "one", resp.Data.Arity)
	assert.Equal(t, "loaded", resp.Data.Status)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "f-apr", resp.Data.Rows[0]["id"])
}

func TestQueryEmptyTable(t *testing.T) {
	db := testDB(t)

	out, _, err := execute(t, "--db", db, "query", "tributacao")
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

func TestQueryAmbiguousOne(t *testing.T) {
	db := testDB(t)
	insertFechamento(t, db, "f-mar-1", "2024-03", "2024-03-31")
	insertFechamento(t, db, "f-mar-2", "2024-03", "2024-04-02")

	out, _, err := execute(t, "--db", db, "query", "fechamento", "--where", "competencia=2024-03", "--one")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [AMBIGUOUS_RESULT]")
}

func TestQueryUnknownColumn(t *testing.T) {
	db := testDB(t)

	out, _, err := execute(t, "--db", db, "--format", "json", "query", "fechamento", "--order", "inexistente")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QUERY", resp.Error.Code)
	assert.Equal(t, "The data could not be loaded.", resp.Error.Message)
}

func TestQueryInvalidAdHoc(t *testing.T) {
	db := testDB(t)

	_, _, err := execute(t, "--db", db, "query", "fechamento", "--limit=-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid query")
}

func TestQueryMissingArg(t *testing.T) {
	_, _, err := execute(t, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestSpecFlags(t *testing.T) {
	flags := specFlags{
		Where:   []string{"status=aberto", "responsavel=null"},
		Order:   "competencia desc",
		Limit:   5,
		Columns: []string{"id", "status"},
	}

	spec, err := flags.spec("fechamento")
	require.NoError(t, err)
	assert.Equal(t, "fechamento", spec.From)
	assert.Equal(t, 5, spec.Limit)
	assert.Equal(t, []string{"id", "status"}, spec.Columns)
	require.Len(t, spec.OrderBy, 1)
	assert.Equal(t, "competencia", spec.OrderBy[0].Field)
	assert.NotNil(t, spec.Filter)
}

func TestSpecFlagsInvalidWhere(t *testing.T) {
	flags := specFlags{Where: []string{"status"}}

	_, err := flags.spec("fechamento")
	require.Error(t, err)
}
