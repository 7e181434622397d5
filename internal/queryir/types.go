package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/livesync/internal/ir"
)

// Arity is the result shape a query promises.
type Arity int

const (
	// ArityMany returns an ordered sequence of rows.
	ArityMany Arity = iota
	// ArityOne returns at most one row. A backend answer with two or more
	// rows is an AmbiguousResultError.
	ArityOne
)

// String implements fmt.Stringer.
func (a Arity) String() string {
	switch a {
	case ArityMany:
		return "many"
	case ArityOne:
		return "one"
	default:
		return fmt.Sprintf("Arity(%d)", int(a))
	}
}

// ParseArity parses "one" or "many" (empty means many).
func ParseArity(s string) (Arity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "many":
		return ArityMany, nil
	case "one", "single":
		return ArityOne, nil
	default:
		return 0, fmt.Errorf("invalid arity %q: must be one or many", s)
	}
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Dir   Direction
}

// Spec is a complete live query specification.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order_by> LIMIT <limit>
//
// Example (latest closing):
//
//	Spec{
//	  From:    "fechamento",
//	  OrderBy: []Order{{Field: "data_fechamento", Dir: Desc}},
//	  Limit:   1,
//	  Arity:   ArityOne,
//	}
//
// Columns empty means every column. Limit 0 means no limit.
type Spec struct {
	From    string
	Columns []string
	Filter  Predicate // nil = no filter
	OrderBy []Order
	Limit   int
	Arity   Arity
}

// Table returns the table name without its schema prefix. Change events
// carry bare table names.
func (s Spec) Table() string {
	if i := strings.LastIndexByte(s.From, '.'); i >= 0 {
		return s.From[i+1:]
	}
	return s.From
}

// Definition is a named Spec loaded from a query definition file.
type Definition struct {
	Name        string
	Description string
	Spec        Spec
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it,
// which keeps type switches in backend compilers exhaustive.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Equals represents a field-equals-literal predicate.
//
//	<field> = <value>
//
// Value must not be ir.Null; use IsNull for NULL checks.
type Equals struct {
	Field string
	Value ir.Value
}

func (Equals) predicateNode() {}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "="
	OpNe  CompareOp = "<>"
	OpLt  CompareOp = "<"
	OpLte CompareOp = "<="
	OpGt  CompareOp = ">"
	OpGte CompareOp = ">="
)

// ValidOps lists the supported comparison operators.
var ValidOps = map[CompareOp]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
}

// Compare represents a field-operator-literal predicate, e.g. a closing-date
// range bound:
//
//	Compare{Field: "data_fechamento", Op: OpGte, Value: ir.Text("2024-01-01")}
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.Value
}

func (Compare) predicateNode() {}

// IsNull represents "<field> IS NULL" (or IS NOT NULL when Negate is set).
type IsNull struct {
	Field  string
	Negate bool
}

func (IsNull) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// Empty Predicates means "always true".
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where builds an And of Equals predicates from column/value pairs, sorted by
// column so the compiled SQL is deterministic.
func Where(equals map[string]ir.Value) Predicate {
	if len(equals) == 0 {
		return nil
	}
	row := ir.Row(equals)
	preds := make([]Predicate, 0, len(equals))
	for _, k := range row.SortedKeys() {
		preds = append(preds, Equals{Field: k, Value: equals[k]})
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return And{Predicates: preds}
}

// ParseOrder parses a sort clause such as "data_fechamento desc, id".
func ParseOrder(clause string) ([]Order, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return nil, nil
	}

	var orders []Order
	for _, term := range strings.Split(clause, ",") {
		fields := strings.Fields(term)
		switch len(fields) {
		case 1:
			orders = append(orders, Order{Field: fields[0], Dir: Asc})
		case 2:
			switch strings.ToLower(fields[1]) {
			case "asc":
				orders = append(orders, Order{Field: fields[0], Dir: Asc})
			case "desc":
				orders = append(orders, Order{Field: fields[0], Dir: Desc})
			default:
				return nil, fmt.Errorf("invalid sort direction %q in %q", fields[1], term)
			}
		default:
			return nil, fmt.Errorf("invalid sort term %q", strings.TrimSpace(term))
		}
	}
	return orders, nil
}

// Describe returns a canonical, JSON-friendly description of the spec, used
// for fingerprints and diagnostics.
func (s Spec) Describe() map[string]any {
	orders := make([]any, len(s.OrderBy))
	for i, o := range s.OrderBy {
		orders[i] = o.Field + " " + o.Dir.String()
	}
	cols := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c
	}
	return map[string]any{
		"from":    s.From,
		"columns": cols,
		"filter":  describePredicate(s.Filter),
		"order":   orders,
		"limit":   s.Limit,
		"arity":   s.Arity.String(),
	}
}

func describePredicate(p Predicate) string {
	switch pred := p.(type) {
	case nil:
		return ""
	case Equals:
		return fmt.Sprintf("%s = %s", pred.Field, describeValue(pred.Value))
	case *Equals:
		return describePredicate(*pred)
	case Compare:
		return fmt.Sprintf("%s %s %s", pred.Field, pred.Op, describeValue(pred.Value))
	case *Compare:
		return describePredicate(*pred)
	case IsNull:
		if pred.Negate {
			return pred.Field + " IS NOT NULL"
		}
		return pred.Field + " IS NULL"
	case *IsNull:
		return describePredicate(*pred)
	case And:
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			parts = append(parts, describePredicate(sub))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case *And:
		return describePredicate(*pred)
	default:
		return fmt.Sprintf("%T", p)
	}
}

func describeValue(v ir.Value) string {
	if s, ok := ir.AsString(v); ok {
		if _, isText := v.(ir.Text); isText {
			return fmt.Sprintf("%q", s)
		}
		return s
	}
	return "NULL"
}
