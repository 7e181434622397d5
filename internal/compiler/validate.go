package compiler

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/livesync/internal/queryir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrInvalidSpec = "E100" // query spec rejected by queryir.Validate

	// Definition errors (E101-E109)
	ErrQueryNameInvalid = "E101" // name must be a lowercase identifier
	ErrQueryFromEmpty   = "E102" // from is required
	ErrDuplicateName    = "E103" // duplicate query name
	ErrArityLimit       = "E104" // arity one with a limit other than 0 or 1
)

// namePattern restricts query names to what is safe in URLs and file names.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Query   string `json:"query"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", e.Code, e.Query, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled definition.
// Returns all errors found (does not fail-fast).
func Validate(def queryir.Definition) []ValidationError {
	var errs []ValidationError
	add := func(field, code, msg string) {
		errs = append(errs, ValidationError{Query: def.Name, Field: field, Message: msg, Code: code})
	}

	if !namePattern.MatchString(def.Name) {
		add("name", ErrQueryNameInvalid, fmt.Sprintf("invalid query name %q", def.Name))
	}

	if def.Spec.From == "" {
		add("from", ErrQueryFromEmpty, "from is required and must be non-empty")
	}

	if def.Spec.Arity == queryir.ArityOne && def.Spec.Limit > 1 {
		add("limit", ErrArityLimit, fmt.Sprintf("arity one allows limit 0 or 1, got %d", def.Spec.Limit))
	}

	if err := queryir.Validate(def.Spec); err != nil {
		var verr *queryir.ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				if def.Spec.From == "" && p == "table name is required" {
					continue
				}
				add("spec", ErrInvalidSpec, p)
			}
		} else {
			add("spec", ErrInvalidSpec, err.Error())
		}
	}

	return errs
}

// ValidateAll validates every definition and reports duplicate names.
func ValidateAll(defs []queryir.Definition) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)
	for _, def := range defs {
		if seen[def.Name] {
			errs = append(errs, ValidationError{
				Query:   def.Name,
				Field:   "name",
				Message: fmt.Sprintf("duplicate query name: %q", def.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[def.Name] = true
		errs = append(errs, Validate(def)...)
	}
	return errs
}
