package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a live query conformance scenario: a query, the rows it
// starts from, and a flow of writes whose effect on the query is recorded
// step by step.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Query is the live query under test, in the same shape as a query
	// definition in a .cue file (from, where, compare, order, limit, arity...).
	Query map[string]any `yaml:"query"`

	// Setup rows are written before the query starts.
	Setup []SetupRow `yaml:"setup,omitempty"`

	// Flow contains the steps run after the initial load.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final state.
	// Supported types: final_status, row_count, row_contains, error_code.
	Assertions []Assertion `yaml:"assertions"`
}

// SetupRow is one row inserted before the query starts.
type SetupRow struct {
	Table string         `yaml:"table"`
	Row   map[string]any `yaml:"row"`
}

// FlowStep is one step of the flow. Exactly one of Insert, Update, Delete
// and Refetch is set.
type FlowStep struct {
	Insert  *InsertStep `yaml:"insert,omitempty"`
	Update  *UpdateStep `yaml:"update,omitempty"`
	Delete  *DeleteStep `yaml:"delete,omitempty"`
	Refetch bool        `yaml:"refetch,omitempty"`

	// Expect is checked against the state once the step has settled.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// InsertStep adds a row.
type InsertStep struct {
	Table string         `yaml:"table"`
	Row   map[string]any `yaml:"row"`
}

// UpdateStep sets columns on an existing row.
type UpdateStep struct {
	Table string         `yaml:"table"`
	ID    string         `yaml:"id"`
	Set   map[string]any `yaml:"set"`
}

// DeleteStep removes a row.
type DeleteStep struct {
	Table string `yaml:"table"`
	ID    string `yaml:"id"`
}

// Action returns the step's action name.
func (s FlowStep) Action() string {
	switch {
	case s.Insert != nil:
		return ActionInsert
	case s.Update != nil:
		return ActionUpdate
	case s.Delete != nil:
		return ActionDelete
	case s.Refetch:
		return ActionRefetch
	default:
		return ""
	}
}

// Table returns the table the step writes to, or "" for a refetch.
func (s FlowStep) Table() string {
	switch {
	case s.Insert != nil:
		return s.Insert.Table
	case s.Update != nil:
		return s.Update.Table
	case s.Delete != nil:
		return s.Delete.Table
	default:
		return ""
	}
}

// ExpectClause specifies the expected state after a step.
// Only the fields that are set are checked.
type ExpectClause struct {
	// Status is idle, loading, loaded or errored.
	Status string `yaml:"status,omitempty"`

	// IDs are the expected row ids, in order.
	IDs []string `yaml:"ids,omitempty"`

	// Count is the expected number of rows.
	Count *int `yaml:"count,omitempty"`

	// Error is the expected error code, e.g. AMBIGUOUS_RESULT.
	Error string `yaml:"error,omitempty"`

	// Stale expects last good rows to be shown behind an error.
	Stale *bool `yaml:"stale,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_status": the final status equals Status
	// - "row_count": the final result holds exactly Count rows
	// - "row_contains": some final row matches Expect (subset match)
	// - "error_code": the final error has code Code
	Type string `yaml:"type"`

	Status string         `yaml:"status,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Code   string         `yaml:"code,omitempty"`
}

// Flow step actions.
const (
	ActionStart   = "start"
	ActionInsert  = "insert"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionRefetch = "refetch"
)

// Assertion type constants.
const (
	AssertFinalStatus = "final_status"
	AssertRowCount    = "row_count"
	AssertRowContains = "row_contains"
	AssertErrorCode   = "error_code"
)

var validStatuses = map[string]bool{
	"idle":    true,
	"loading": true,
	"loaded":  true,
	"errored": true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Query) == 0 {
		return fmt.Errorf("query is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, row := range s.Setup {
		if row.Table == "" {
			return fmt.Errorf("setup[%d]: table is required", i)
		}
		if len(row.Row) == 0 {
			return fmt.Errorf("setup[%d]: row is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step FlowStep) error {
	actions := 0
	if step.Insert != nil {
		actions++
		if step.Insert.Table == "" || len(step.Insert.Row) == 0 {
			return fmt.Errorf("flow[%d]: insert needs table and row", index)
		}
	}
	if step.Update != nil {
		actions++
		if step.Update.Table == "" || step.Update.ID == "" || len(step.Update.Set) == 0 {
			return fmt.Errorf("flow[%d]: update needs table, id and set", index)
		}
	}
	if step.Delete != nil {
		actions++
		if step.Delete.Table == "" || step.Delete.ID == "" {
			return fmt.Errorf("flow[%d]: delete needs table and id", index)
		}
	}
	if step.Refetch {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of insert, update, delete, refetch is required", index)
	}

	if step.Expect != nil && step.Expect.Status != "" && !validStatuses[step.Expect.Status] {
		return fmt.Errorf("flow[%d].expect: unknown status %q", index, step.Expect.Status)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalStatus:
		if !validStatuses[a.Status] {
			return fmt.Errorf("assertions[%d]: valid status is required for final_status", index)
		}
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRowContains:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row_contains", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
