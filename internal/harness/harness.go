package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/livesync/internal/compiler"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/store"
	"github.com/roach88/livesync/internal/testutil"
)

// SettleTimeout bounds how long a step may take to settle.
const SettleTimeout = 5 * time.Second

// Harness runs one scenario against a fresh store.
type Harness struct {
	store  *store.Store
	query  *livequery.Query[ir.Row]
	spec   queryir.Spec
	logger *slog.Logger
}

// CompileScenarioQuery turns the scenario's query block into a validated
// definition named after the scenario.
func CompileScenarioQuery(scenario *Scenario) (queryir.Definition, error) {
	v := cuecontext.New().Encode(scenario.Query)
	def, err := compiler.CompileQuery(v)
	if err != nil {
		return queryir.Definition{}, err
	}
	def.Name = scenario.Name
	if errs := compiler.Validate(*def); len(errs) > 0 {
		return queryir.Definition{}, errs[0]
	}
	return *def, nil
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh SQLite database in a temporary directory.
// Rows inserted without an id get "row-1", "row-2", ... so traces are
// reproducible.
//
// Execution flow:
//  1. Compile the scenario query
//  2. Create a fresh database and write the setup rows
//  3. Start the query and wait for the initial load
//  4. Run each flow step and wait for the query to settle
//  5. Evaluate assertions against the final state
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	def, err := CompileScenarioQuery(scenario)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}

	dir, err := os.MkdirTemp("", "livesync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	logger := slog.New(slog.DiscardHandler)
	st, err := store.Open(filepath.Join(dir, "scenario.db"),
		store.WithLogger(logger),
		store.WithIDGenerator(testutil.NewSequenceIDs("row").Generate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	for i, setup := range scenario.Setup {
		row, err := convertRow(setup.Row)
		if err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
		if _, err := st.Insert(ctx, setup.Table, row); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	h := &Harness{
		store: st,
		spec:  def.Spec,
		query: livequery.New(st, def.Spec, livequery.Rows,
			livequery.WithLogger(logger),
			livequery.WithIDGenerator(testutil.NewFixedID(scenario.Name)),
		),
		logger: logger,
	}
	defer h.query.Stop()

	result := NewResult()
	h.query.Start(ctx)
	state, err := h.settle(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	result.AddTrace(0, ActionStart, def.Spec.From, "", state)

	for i, step := range scenario.Flow {
		state, err = h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Action(), err)
		}
		ev := result.AddTrace(i+1, step.Action(), step.Table(), stepID(step), state)
		if step.Expect != nil {
			for _, msg := range checkExpect(ev, *step.Expect) {
				result.AddError(fmt.Sprintf("flow[%d]: %s", i, msg))
			}
		}
	}

	result.Final = state
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// execute runs one step and returns the state it settles in.
//
// Writes to a table the query does not read trigger no refetch, so the
// current state is returned as is.
func (h *Harness) execute(ctx context.Context, step FlowStep) (livequery.State[ir.Row], error) {
	prev := h.query.State().Generation

	switch {
	case step.Insert != nil:
		row, err := convertRow(step.Insert.Row)
		if err != nil {
			return livequery.State[ir.Row]{}, err
		}
		if _, err := h.store.Insert(ctx, step.Insert.Table, row); err != nil {
			return livequery.State[ir.Row]{}, err
		}
	case step.Update != nil:
		set, err := convertRow(step.Update.Set)
		if err != nil {
			return livequery.State[ir.Row]{}, err
		}
		if err := h.store.Update(ctx, step.Update.Table, step.Update.ID, set); err != nil {
			return livequery.State[ir.Row]{}, err
		}
	case step.Delete != nil:
		if err := h.store.Delete(ctx, step.Delete.Table, step.Delete.ID); err != nil {
			return livequery.State[ir.Row]{}, err
		}
	case step.Refetch:
		h.query.Refetch()
	}

	if !step.Refetch && step.Table() != h.spec.Table() {
		return h.query.State(), nil
	}
	return h.settle(ctx, prev)
}

// settle waits until a generation newer than prev has settled.
func (h *Harness) settle(ctx context.Context, prev int64) (livequery.State[ir.Row], error) {
	ctx, cancel := context.WithTimeout(ctx, SettleTimeout)
	defer cancel()

	st, err := h.query.WaitFor(ctx, func(s livequery.State[ir.Row]) bool {
		return s.Generation > prev && s.Settled()
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return st, fmt.Errorf("query did not settle within %s (status %s, generation %d)",
			SettleTimeout, st.Status, st.Generation)
	}
	return st, err
}

func stepID(step FlowStep) string {
	switch {
	case step.Update != nil:
		return step.Update.ID
	case step.Delete != nil:
		return step.Delete.ID
	case step.Insert != nil:
		if id, ok := step.Insert.Row["id"].(string); ok {
			return id
		}
	}
	return ""
}

// convertRow converts YAML-decoded column values to a Row.
func convertRow(values map[string]any) (ir.Row, error) {
	row := make(ir.Row, len(values))
	for col, val := range values {
		v, err := ir.FromAny(val)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		row[col] = v
	}
	return row, nil
}
