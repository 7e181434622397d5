// Package harness runs live query scenarios against a real SQLite store.
//
// A scenario names a query, the rows present before it starts, and a flow of
// writes. After the initial load and after every step the harness waits for
// the query to settle and records its state. The recorded trace is compared
// against a golden file, and the final state against the scenario's
// assertions.
//
// # Scenario Format
//
//	name: latest_fechamento_advances
//	description: "The latest closing follows a newer month"
//	query:
//	  from: fechamento
//	  order: data_fechamento desc
//	  limit: 1
//	  arity: one
//	setup:
//	  - table: fechamento
//	    row: { id: f-mar, competencia: "2024-03", data_fechamento: "2024-03-31" }
//	flow:
//	  - insert:
//	      table: fechamento
//	      row: { id: f-apr, competencia: "2024-04", data_fechamento: "2024-04-30" }
//	    expect: { status: loaded, ids: [f-apr] }
//	  - update: { table: fechamento, id: f-apr, set: { status: fechado } }
//	  - delete: { table: fechamento, id: f-apr }
//	  - refetch: true
//	assertions:
//	  - type: final_status
//	    status: loaded
//	  - type: row_contains
//	    expect: { competencia: "2024-03" }
//
// The query block accepts the same fields as a query definition in a .cue
// file.
//
// # Assertion Types
//
//   - final_status: the query ended in the given status
//   - row_count: the final result holds exactly N rows
//   - row_contains: some final row matches the expected columns
//   - error_code: the final error has the given code
//
// # Deterministic Testing
//
// Each scenario gets its own database. Rows inserted without an id are
// numbered row-1, row-2, ... and every write is published before it
// returns, so a write to the query's table causes exactly one refetch and
// generations in the trace are stable across runs.
package harness
