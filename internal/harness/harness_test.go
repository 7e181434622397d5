package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Trace, len(scenario.Flow)+1)
		})
	}
}

func TestRun_LatestFechamento(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/latest_fechamento_advances.yaml")
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	var gens []int64
	for _, ev := range result.Trace {
		gens = append(gens, ev.Generation)
	}
	assert.Equal(t, []int64{1, 2, 3, 3, 4}, gens, "write to another table does not refetch")

	one, ok := result.Final.Result.One()
	require.True(t, ok)
	assert.Equal(t, "f-mar", one.ID())
}

func TestRun_FailedExpectIsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectation
description: expects the wrong row
query:
  from: fechamento
  order: data_fechamento desc
  limit: 1
  arity: one
setup:
  - table: fechamento
    row: { id: f-mar, competencia: "2024-03", data_fechamento: "2024-03-31" }
flow:
  - insert:
      table: fechamento
      row: { id: f-apr, competencia: "2024-04", data_fechamento: "2024-04-30" }
    expect:
      ids: [f-mar]
assertions:
  - type: final_status
    status: errored
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "flow[0]: ids: expected [f-mar], got [f-apr]")
	assert.Contains(t, result.Errors[1], "Assertion failed: final_status")
}

func TestRun_GeneratedIDs(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: generated_ids
description: rows without an id are numbered
query:
  from: fechamento
  order: competencia
setup:
  - table: fechamento
    row: { competencia: "2024-01", data_fechamento: "2024-01-31" }
flow:
  - insert:
      table: fechamento
      row: { competencia: "2024-02", data_fechamento: "2024-02-29" }
    expect:
      ids: [row-1, row-2]
assertions:
  - type: row_count
    count: 2
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_InvalidQuery(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad_query
description: limit must be an integer
query:
  from: fechamento
  limit: "one"
assertions:
  - type: final_status
    status: loaded
`))
	require.NoError(t, err)

	_, err = Run(t.Context(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile query")
}

func TestRun_WriteErrorFailsRun(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: missing_row
description: deleting a row that does not exist
query:
  from: fechamento
flow:
  - delete: { table: fechamento, id: nope }
assertions:
  - type: final_status
    status: loaded
`))
	require.NoError(t, err)

	_, err = Run(t.Context(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow[0] delete")
}

func TestRun_InfiniteAmountFailsRun(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: infinite_amount
description: an infinite amount has no decimal form
query:
  from: fechamento
setup:
  - table: fechamento
    row: { id: f-mar, competencia: "2024-03", data_fechamento: "2024-03-31", valor_total: .inf }
assertions:
  - type: final_status
    status: loaded
`))
	require.NoError(t, err)

	_, err = Run(t.Context(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup[0]")
	assert.Contains(t, err.Error(), "valor_total")
}
