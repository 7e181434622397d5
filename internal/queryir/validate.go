package queryir

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// identPattern accepts a bare identifier with an optional "schema." prefix.
var identPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\.)?[A-Za-z_][A-Za-z0-9_]*$`)

// columnPattern accepts a bare column identifier.
var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError lists every problem found in a Spec.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "invalid query spec: " + strings.Join(e.Problems, "; ")
}

// ValidTable reports whether name is a syntactically valid table reference.
func ValidTable(name string) bool {
	return identPattern.MatchString(name)
}

// ValidColumn reports whether name is a syntactically valid column name.
func ValidColumn(name string) bool {
	return columnPattern.MatchString(name)
}

// Validate checks that a spec is syntactically valid for a SQL backend.
//
// It does not consult the backend: a well-formed reference to a table that
// does not exist passes here and fails at fetch time as a query error.
//
// Returns nil or a *ValidationError carrying every problem found.
// Validate is a pure function with no side effects.
func Validate(spec Spec) error {
	v := &validator{}

	if spec.From == "" {
		v.addProblem("table name is required")
	} else if !ValidTable(spec.From) {
		v.addProblem("invalid table name %q", spec.From)
	}

	for _, col := range spec.Columns {
		if !ValidColumn(col) {
			v.addProblem("invalid column %q", col)
		}
	}

	v.validatePredicate(spec.Filter)

	for _, o := range spec.OrderBy {
		if !ValidColumn(o.Field) {
			v.addProblem("invalid sort field %q", o.Field)
		}
		if o.Dir != Asc && o.Dir != Desc {
			v.addProblem("invalid sort direction %d for %q", int(o.Dir), o.Field)
		}
	}

	if spec.Limit < 0 {
		v.addProblem("limit must not be negative, got %d", spec.Limit)
	}

	if spec.Arity != ArityMany && spec.Arity != ArityOne {
		v.addProblem("unknown arity %s", spec.Arity)
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

// addProblem appends a problem message.
func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		// no filter
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		if pred == nil {
			v.addProblem("nil %T predicate", p)
			return
		}
		v.validateEquals(*pred)
	case Compare:
		v.validateCompare(pred)
	case *Compare:
		if pred == nil {
			v.addProblem("nil %T predicate", p)
			return
		}
		v.validateCompare(*pred)
	case IsNull:
		v.validateField(pred.Field)
	case *IsNull:
		if pred == nil {
			v.addProblem("nil %T predicate", p)
			return
		}
		v.validateField(pred.Field)
	case And:
		v.validateAnd(pred)
	case *And:
		if pred == nil {
			v.addProblem("nil %T predicate", p)
			return
		}
		v.validateAnd(*pred)
	default:
		v.addProblem("unsupported predicate type %T", p)
	}
}

func (v *validator) validateField(field string) {
	if !ValidColumn(field) {
		v.addProblem("invalid filter field %q", field)
	}
}

func (v *validator) validateEquals(eq Equals) {
	v.validateField(eq.Field)
	v.validateValue(eq.Field, eq.Value)
}

func (v *validator) validateCompare(c Compare) {
	v.validateField(c.Field)
	if !ValidOps[c.Op] {
		v.addProblem("invalid operator %q for field %q", c.Op, c.Field)
	}
	v.validateValue(c.Field, c.Value)
}

func (v *validator) validateValue(field string, val ir.Value) {
	switch val.(type) {
	case nil, ir.Null:
		v.addProblem("field %q compared to NULL - use IsNull", field)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		if sub == nil {
			v.addProblem("nil predicate inside And")
			continue
		}
		v.validatePredicate(sub)
	}
}
