package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: smallest valid scenario
query:
  from: fechamento
assertions:
  - type: final_status
    status: loaded
`

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "fechamento", s.Query["from"])
	assert.Empty(t, s.Flow)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Steps(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: steps
description: every step kind
query: { from: fechamento }
flow:
  - insert: { table: fechamento, row: { id: a } }
  - update: { table: fechamento, id: a, set: { status: fechado } }
  - delete: { table: fechamento, id: a }
  - refetch: true
    expect: { status: loaded, count: 0, stale: false }
assertions:
  - type: row_count
    count: 0
`))
	require.NoError(t, err)
	require.Len(t, s.Flow, 4)

	var actions []string
	for _, step := range s.Flow {
		actions = append(actions, step.Action())
	}
	assert.Equal(t, []string{ActionInsert, ActionUpdate, ActionDelete, ActionRefetch}, actions)
	assert.Equal(t, "a", stepID(s.Flow[1]))
	assert.Equal(t, "", s.Flow[3].Table())

	expect := s.Flow[3].Expect
	require.NotNil(t, expect)
	require.NotNil(t, expect.Count)
	assert.Equal(t, 0, *expect.Count)
	require.NotNil(t, expect.Stale)
	assert.False(t, *expect.Stale)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    minimalScenario + "assertion: []\n",
			wantErr: "field assertion not found",
		},
		{
			name: "missing name",
			yaml: `
description: d
query: { from: fechamento }
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: "name is required",
		},
		{
			name: "missing query",
			yaml: `
name: n
description: d
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: "query is required",
		},
		{
			name: "missing assertions",
			yaml: `
name: n
description: d
query: { from: fechamento }
`,
			wantErr: "assertions list is required",
		},
		{
			name: "two actions in one step",
			yaml: `
name: n
description: d
query: { from: fechamento }
flow:
  - refetch: true
    delete: { table: fechamento, id: a }
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: "flow[0]: exactly one of",
		},
		{
			name: "update without set",
			yaml: `
name: n
description: d
query: { from: fechamento }
flow:
  - update: { table: fechamento, id: a }
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: "flow[0]: update needs table, id and set",
		},
		{
			name: "bad expected status",
			yaml: `
name: n
description: d
query: { from: fechamento }
flow:
  - refetch: true
    expect: { status: done }
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: `unknown status "done"`,
		},
		{
			name: "setup without table",
			yaml: `
name: n
description: d
query: { from: fechamento }
setup:
  - row: { id: a }
assertions: [{ type: row_count, count: 0 }]
`,
			wantErr: "setup[0]: table is required",
		},
		{
			name: "unknown assertion",
			yaml: `
name: n
description: d
query: { from: fechamento }
assertions: [{ type: trace_order }]
`,
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name: "error_code without code",
			yaml: `
name: n
description: d
query: { from: fechamento }
assertions: [{ type: error_code }]
`,
			wantErr: "code is required for error_code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompileScenarioQuery(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: compiled
description: d
query:
  from: fechamento
  where: { competencia: "2024-04", observacao: null }
  order: data_fechamento desc
  limit: 1
  arity: one
assertions: [{ type: row_count, count: 1 }]
`))
	require.NoError(t, err)

	def, err := CompileScenarioQuery(s)
	require.NoError(t, err)
	assert.Equal(t, "compiled", def.Name)
	assert.Equal(t, "fechamento", def.Spec.From)
	assert.Equal(t, 1, def.Spec.Limit)
	assert.Equal(t, "one", def.Spec.Arity.String())
	require.Len(t, def.Spec.OrderBy, 1)
	assert.Equal(t, "data_fechamento", def.Spec.OrderBy[0].Field)
	assert.NotNil(t, def.Spec.Filter)
}
