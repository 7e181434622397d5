package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"github.com/shopspring/decimal"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// CompileQuery parses a CUE value into a query Definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the query struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`query: latest_fechamento: { from: "fechamento", ... }`)
//	def, err := CompileQuery(v.LookupPath(cue.ParsePath("query.latest_fechamento")))
//
// Recognised fields:
//
//	from:        table name (required)
//	description: free text
//	columns:     [...string]
//	where:       {column: literal}; a null literal means IS NULL
//	compare:     [...{field, op, value}]
//	not_null:    [...string]
//	order:       "col desc, col2" or [..."col desc"]
//	limit:       int
//	arity:       "one" | "many"
//
// CompileQuery checks structure only; run Validate on the result for
// identifier and semantic checks.
func CompileQuery(v cue.Value) (*queryir.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &queryir.Definition{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}

	fromVal := v.LookupPath(cue.ParsePath("from"))
	if !fromVal.Exists() {
		return nil, &CompileError{Field: "from", Message: "from is required", Pos: v.Pos()}
	}
	from, err := fromVal.String()
	if err != nil {
		return nil, &CompileError{Field: "from", Message: "from must be a string", Pos: fromVal.Pos()}
	}
	def.Spec.From = from

	if d := v.LookupPath(cue.ParsePath("description")); d.Exists() {
		desc, err := d.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Description = desc
	}

	if def.Spec.Columns, err = parseStrings(v, "columns"); err != nil {
		return nil, err
	}

	if def.Spec.Filter, err = parseFilter(v); err != nil {
		return nil, err
	}

	if def.Spec.OrderBy, err = parseOrder(v); err != nil {
		return nil, err
	}

	if l := v.LookupPath(cue.ParsePath("limit")); l.Exists() {
		n, err := l.Int64()
		if err != nil {
			return nil, &CompileError{Field: "limit", Message: "limit must be an integer", Pos: l.Pos()}
		}
		def.Spec.Limit = int(n)
	}

	if a := v.LookupPath(cue.ParsePath("arity")); a.Exists() {
		s, err := a.String()
		if err != nil {
			return nil, &CompileError{Field: "arity", Message: "arity must be a string", Pos: a.Pos()}
		}
		arity, err := queryir.ParseArity(s)
		if err != nil {
			return nil, &CompileError{Field: "arity", Message: err.Error(), Pos: a.Pos()}
		}
		def.Spec.Arity = arity
	}

	return def, nil
}

// CompileQueries compiles every field of the top-level "query" struct.
// A missing "query" struct yields no definitions.
func CompileQueries(v cue.Value) ([]queryir.Definition, error) {
	queriesVal := v.LookupPath(cue.ParsePath("query"))
	if !queriesVal.Exists() {
		return nil, nil
	}
	iter, err := queriesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []queryir.Definition
	for iter.Next() {
		def, err := CompileQuery(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("query.%s: %w", iter.Label(), err)
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// parseStrings reads an optional list of strings.
func parseStrings(v cue.Value, field string) ([]string, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: listVal.Pos()}
	}

	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// parseFilter combines where, compare and not_null into one predicate.
func parseFilter(v cue.Value) (queryir.Predicate, error) {
	var preds []queryir.Predicate

	if whereVal := v.LookupPath(cue.ParsePath("where")); whereVal.Exists() {
		iter, err := whereVal.Fields()
		if err != nil {
			return nil, &CompileError{Field: "where", Message: "where must be a struct", Pos: whereVal.Pos()}
		}
		equals := make(map[string]ir.Value)
		var nulls []queryir.Predicate
		for iter.Next() {
			field := iter.Label()
			val, err := literal(iter.Value(), "where."+field)
			if err != nil {
				return nil, err
			}
			if _, isNull := val.(ir.Null); isNull {
				nulls = append(nulls, queryir.IsNull{Field: field})
				continue
			}
			equals[field] = val
		}
		if p := queryir.Where(equals); p != nil {
			if and, ok := p.(queryir.And); ok {
				preds = append(preds, and.Predicates...)
			} else {
				preds = append(preds, p)
			}
		}
		preds = append(preds, nulls...)
	}

	if cmpVal := v.LookupPath(cue.ParsePath("compare")); cmpVal.Exists() {
		iter, err := cmpVal.List()
		if err != nil {
			return nil, &CompileError{Field: "compare", Message: "compare must be a list", Pos: cmpVal.Pos()}
		}
		for iter.Next() {
			p, err := parseCompare(iter.Value())
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}

	notNull, err := parseStrings(v, "not_null")
	if err != nil {
		return nil, err
	}
	for _, field := range notNull {
		preds = append(preds, queryir.IsNull{Field: field, Negate: true})
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return queryir.And{Predicates: preds}, nil
	}
}

// parseCompare parses one {field, op, value} entry.
func parseCompare(v cue.Value) (queryir.Predicate, error) {
	fieldVal := v.LookupPath(cue.ParsePath("field"))
	field, err := fieldVal.String()
	if err != nil {
		return nil, &CompileError{Field: "compare.field", Message: "field is required", Pos: v.Pos()}
	}

	opVal := v.LookupPath(cue.ParsePath("op"))
	op, err := opVal.String()
	if err != nil {
		return nil, &CompileError{Field: "compare.op", Message: "op is required", Pos: v.Pos()}
	}
	if !queryir.ValidOps[queryir.CompareOp(op)] {
		return nil, &CompileError{
			Field:   "compare.op",
			Message: fmt.Sprintf("unsupported operator %q", op),
			Pos:     opVal.Pos(),
		}
	}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{Field: "compare.value", Message: "value is required", Pos: v.Pos()}
	}
	val, err := literal(valueVal, "compare.value")
	if err != nil {
		return nil, err
	}
	return queryir.Compare{Field: field, Op: queryir.CompareOp(op), Value: val}, nil
}

// parseOrder accepts a clause string or a list of clause strings.
func parseOrder(v cue.Value) ([]queryir.Order, error) {
	orderVal := v.LookupPath(cue.ParsePath("order"))
	if !orderVal.Exists() {
		return nil, nil
	}

	var clauses []string
	if s, err := orderVal.String(); err == nil {
		clauses = []string{s}
	} else {
		clauses, err = parseStrings(v, "order")
		if err != nil {
			return nil, &CompileError{Field: "order", Message: "order must be a string or list of strings", Pos: orderVal.Pos()}
		}
	}

	var orders []queryir.Order
	for _, clause := range clauses {
		parsed, err := queryir.ParseOrder(clause)
		if err != nil {
			return nil, &CompileError{Field: "order", Message: err.Error(), Pos: orderVal.Pos()}
		}
		orders = append(orders, parsed...)
	}
	return orders, nil
}

// literal converts a concrete CUE scalar into an ir.Value.
// Non-integer numbers become exact decimals.
func literal(v cue.Value, field string) (ir.Value, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Text(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		raw, err := v.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return nil, &CompileError{Field: field, Message: fmt.Sprintf("invalid number %s", raw), Pos: v.Pos()}
		}
		return ir.NewDecimal(d), nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported literal kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
