package harness

import (
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/source"
)

// TraceEvent is the settled query state after one step.
type TraceEvent struct {
	Step       int      `json:"step"`
	Action     string   `json:"action"`
	Table      string   `json:"table,omitempty"`
	ID         string   `json:"id,omitempty"`
	Status     string   `json:"status"`
	Generation int64    `json:"generation"`
	Live       bool     `json:"live"`
	Stale      bool     `json:"stale"`
	Rows       []ir.Row `json:"rows"`
	Error      string   `json:"error,omitempty"`
}

// IDs returns the id of every row in the event.
func (e TraceEvent) IDs() []string {
	ids := make([]string, len(e.Rows))
	for i, row := range e.Rows {
		ids[i] = row.ID()
	}
	return ids
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event for the initial load and one per flow step.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the query state after the last step.
	Final livequery.State[ir.Row] `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records the state reached by a step. Rows fall back to the last
// good result while the query is not loaded.
func (r *Result) AddTrace(step int, action, table, id string, st livequery.State[ir.Row]) TraceEvent {
	ev := TraceEvent{
		Step:       step,
		Action:     action,
		Table:      table,
		ID:         id,
		Status:     st.Status.String(),
		Generation: st.Generation,
		Live:       st.Live,
		Rows:       []ir.Row{},
	}
	switch {
	case st.Result != nil:
		ev.Rows = st.Result.Rows
	case st.LastGood != nil:
		ev.Rows = st.LastGood.Rows
		ev.Stale = true
	}
	if st.Err != nil {
		ev.Error = string(source.CodeOf(st.Err))
	}
	r.Trace = append(r.Trace, ev)
	return ev
}

// Last returns the last trace event.
func (r *Result) Last() (TraceEvent, bool) {
	if len(r.Trace) == 0 {
		return TraceEvent{}, false
	}
	return r.Trace[len(r.Trace)-1], true
}
