package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s gen=%d %v", event.Step, event.Action, event.Status, event.Generation, event.IDs())
		if event.Error != "" {
			fmt.Fprintf(&buf, " error=%s", event.Error)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// checkExpect compares a settled step against its expect clause.
func checkExpect(ev TraceEvent, want ExpectClause) []string {
	var problems []string
	if want.Status != "" && ev.Status != want.Status {
		problems = append(problems, fmt.Sprintf("status: expected %s, got %s", want.Status, ev.Status))
	}
	if want.IDs != nil && !slices.Equal(ev.IDs(), want.IDs) {
		problems = append(problems, fmt.Sprintf("ids: expected %v, got %v", want.IDs, ev.IDs()))
	}
	if want.Count != nil && len(ev.Rows) != *want.Count {
		problems = append(problems, fmt.Sprintf("count: expected %d, got %d", *want.Count, len(ev.Rows)))
	}
	if want.Error != "" && ev.Error != want.Error {
		problems = append(problems, fmt.Sprintf("error: expected %s, got %q", want.Error, ev.Error))
	}
	if want.Stale != nil && ev.Stale != *want.Stale {
		problems = append(problems, fmt.Sprintf("stale: expected %t, got %t", *want.Stale, ev.Stale))
	}
	return problems
}

// assertFinalStatus checks the status the query ended in.
func assertFinalStatus(result *Result, assertion Assertion) error {
	got := result.Final.Status.String()
	if got != assertion.Status {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: assertion.Status,
			Actual:   got,
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRowCount checks the number of rows in the final loaded result.
// An errored query has no result and counts as zero rows.
func assertRowCount(result *Result, assertion Assertion) error {
	got := result.Final.Result.Len()
	if got != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows", assertion.Count),
			Actual:   fmt.Sprintf("%d rows", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRowContains checks that some final row holds every expected
// column value. Extra columns are ignored.
func assertRowContains(result *Result, assertion Assertion) error {
	var rows []ir.Row
	if result.Final.Result != nil {
		rows = result.Final.Result.Rows
	}
	for _, row := range rows {
		if matchRow(row, assertion.Expect) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRowContains,
		Expected: fmt.Sprintf("a row matching %v", assertion.Expect),
		Actual:   fmt.Sprintf("%d rows, none matching", len(rows)),
		Trace:    result.Trace,
	}
}

// assertErrorCode checks the code of the final error.
func assertErrorCode(result *Result, assertion Assertion) error {
	ev, _ := result.Last()
	if ev.Error != assertion.Code {
		actual := ev.Error
		if actual == "" {
			actual = "no error"
		}
		return &AssertionError{
			Type:     AssertErrorCode,
			Expected: assertion.Code,
			Actual:   actual,
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchRow checks if row contains all expected columns (subset match).
func matchRow(row ir.Row, expected map[string]any) bool {
	for col, want := range expected {
		if !valuesEqual(row.Get(col), want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a column value with a YAML-decoded expectation.
// Numbers match numerically, so 1500, "1500.00" and a decimal 1500 are equal.
func valuesEqual(actual ir.Value, expected any) bool {
	want, err := ir.FromAny(expected)
	if err != nil {
		return false
	}
	if ir.Equal(actual, want) {
		return true
	}

	as, aok := ir.AsString(actual)
	ws, wok := ir.AsString(want)
	if !aok || !wok {
		return false
	}
	if as == ws {
		return true
	}

	ad, aerr := ir.AsDecimal(actual)
	wd, werr := ir.AsDecimal(want)
	return aerr == nil && werr == nil && ad.Equal(wd)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalStatus:
			err = assertFinalStatus(result, assertion)
		case AssertRowCount:
			err = assertRowCount(result, assertion)
		case AssertRowContains:
			err = assertRowContains(result, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
