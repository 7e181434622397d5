package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// Dialect selects placeholder and collation syntax.
type Dialect int

const (
	// DialectSQLite uses "?" placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses "$1", "$2", ... placeholders.
	DialectPostgres
)

// String implements fmt.Stringer.
func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return fmt.Sprintf("Dialect(%d)", int(d))
	}
}

// KeyColumn is the primary key every synchronized table carries.
const KeyColumn = "id"

// SQLCompiler compiles query specs to parameterized SQL.
//
// CRITICAL: every SELECT ends with a stable ORDER BY so equal sort keys never
// reorder between fetches.
// CRITICAL: values are always parameters, never interpolated.
type SQLCompiler struct {
	dialect Dialect
}

// NewSQLCompiler creates a compiler for the given dialect.
func NewSQLCompiler(d Dialect) *SQLCompiler {
	return &SQLCompiler{dialect: d}
}

// Dialect returns the compiler's dialect.
func (c *SQLCompiler) Dialect() Dialect {
	return c.dialect
}

// Compile converts a spec to a SELECT statement.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(spec queryir.Spec) (string, []any, error) {
	if err := queryir.Validate(spec); err != nil {
		return "", nil, err
	}

	b := &builder{dialect: c.dialect}

	b.sql.WriteString("SELECT ")
	b.sql.WriteString(c.compileColumns(spec.Columns))
	b.sql.WriteString(" FROM ")
	b.sql.WriteString(quoteTable(spec.From))

	if spec.Filter != nil {
		where, err := b.predicate(spec.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.sql.WriteString(" WHERE ")
		b.sql.WriteString(where)
	}

	b.sql.WriteString(" ORDER BY ")
	b.sql.WriteString(c.stableOrderKey(spec.OrderBy))

	if limit := EffectiveLimit(spec); limit > 0 {
		b.sql.WriteString(" LIMIT ")
		b.sql.WriteString(strconv.Itoa(limit))
	}

	return b.sql.String(), b.params, nil
}

// EffectiveLimit returns the row limit sent to the backend.
//
// Arity one asks for two rows so a second match is detected as ambiguous,
// unless the spec itself limits to one row (a "latest" query). Zero means
// no limit.
func EffectiveLimit(spec queryir.Spec) int {
	if spec.Arity == queryir.ArityOne {
		if spec.Limit == 1 {
			return 1
		}
		return 2
	}
	return spec.Limit
}

// compileColumns renders the SELECT list.
func (c *SQLCompiler) compileColumns(cols []string) string {
	if len(cols) == 0 {
		return "*"
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = quoteIdent(col)
	}
	return strings.Join(parts, ", ")
}

// stableOrderKey renders the ORDER BY clause.
// MANDATORY: every SELECT goes through here so the id tiebreaker is never
// forgotten.
func (c *SQLCompiler) stableOrderKey(orders []queryir.Order) string {
	parts := make([]string, 0, len(orders)+1)
	hasKey := false
	for _, o := range orders {
		dir := "ASC"
		if o.Dir == queryir.Desc {
			dir = "DESC"
		}
		parts = append(parts, quoteIdent(o.Field)+" "+dir)
		if o.Field == KeyColumn {
			hasKey = true
		}
	}
	if !hasKey {
		tiebreak := quoteIdent(KeyColumn) + " ASC"
		if c.dialect == DialectSQLite {
			// BINARY keeps text ids ordered the same way across SQLite builds.
			tiebreak += " COLLATE BINARY"
		}
		parts = append(parts, tiebreak)
	}
	return strings.Join(parts, ", ")
}

// CompileInsert builds an INSERT for one row. Columns are emitted in sorted
// order so the statement text is deterministic.
func (c *SQLCompiler) CompileInsert(table string, row ir.Row) (string, []any, error) {
	if !queryir.ValidTable(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	if len(row) == 0 {
		return "", nil, fmt.Errorf("insert into %s: no columns", table)
	}

	b := &builder{dialect: c.dialect}
	keys := row.SortedKeys()
	cols := make([]string, len(keys))
	holders := make([]string, len(keys))
	for i, k := range keys {
		if !queryir.ValidColumn(k) {
			return "", nil, fmt.Errorf("invalid column %q", k)
		}
		holder, err := b.bind(row.Get(k))
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", k, err)
		}
		cols[i] = quoteIdent(k)
		holders[i] = holder
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteTable(table),
		strings.Join(cols, ", "),
		strings.Join(holders, ", "))
	return sql, b.params, nil
}

// CompileUpdate builds an UPDATE of the row with the given id.
// The id column itself is never updated.
func (c *SQLCompiler) CompileUpdate(table, id string, set ir.Row) (string, []any, error) {
	if !queryir.ValidTable(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}

	b := &builder{dialect: c.dialect}
	var assignments []string
	for _, k := range set.SortedKeys() {
		if k == KeyColumn {
			continue
		}
		if !queryir.ValidColumn(k) {
			return "", nil, fmt.Errorf("invalid column %q", k)
		}
		holder, err := b.bind(set.Get(k))
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", k, err)
		}
		assignments = append(assignments, quoteIdent(k)+" = "+holder)
	}
	if len(assignments) == 0 {
		return "", nil, fmt.Errorf("update %s: no columns to set", table)
	}

	holder, err := b.bind(ir.Text(id))
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quoteTable(table),
		strings.Join(assignments, ", "),
		quoteIdent(KeyColumn),
		holder)
	return sql, b.params, nil
}

// CompileDelete builds a DELETE of the row with the given id.
func (c *SQLCompiler) CompileDelete(table, id string) (string, []any, error) {
	if !queryir.ValidTable(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	b := &builder{dialect: c.dialect}
	holder, err := b.bind(ir.Text(id))
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		quoteTable(table), quoteIdent(KeyColumn), holder)
	return sql, b.params, nil
}

// builder accumulates SQL text and positional parameters.
type builder struct {
	dialect Dialect
	sql     strings.Builder
	params  []any
}

// bind appends a parameter and returns its placeholder.
func (b *builder) bind(v ir.Value) (string, error) {
	param, err := ir.ToSQL(v)
	if err != nil {
		return "", err
	}
	b.params = append(b.params, param)
	if b.dialect == DialectPostgres {
		return "$" + strconv.Itoa(len(b.params)), nil
	}
	return "?", nil
}

// predicate compiles a filter to a WHERE fragment.
func (b *builder) predicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil
	case queryir.Equals:
		return b.compare(pred.Field, queryir.OpEq, pred.Value)
	case *queryir.Equals:
		if pred == nil {
			return "", fmt.Errorf("nil %T predicate", p)
		}
		return b.compare(pred.Field, queryir.OpEq, pred.Value)
	case queryir.Compare:
		return b.compare(pred.Field, pred.Op, pred.Value)
	case *queryir.Compare:
		if pred == nil {
			return "", fmt.Errorf("nil %T predicate", p)
		}
		return b.compare(pred.Field, pred.Op, pred.Value)
	case queryir.IsNull:
		return isNull(pred), nil
	case *queryir.IsNull:
		if pred == nil {
			return "", fmt.Errorf("nil %T predicate", p)
		}
		return isNull(*pred), nil
	case queryir.And:
		return b.and(pred)
	case *queryir.And:
		if pred == nil {
			return "", fmt.Errorf("nil %T predicate", p)
		}
		return b.and(*pred)
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (b *builder) compare(field string, op queryir.CompareOp, v ir.Value) (string, error) {
	holder, err := b.bind(v)
	if err != nil {
		return "", fmt.Errorf("convert value for %s: %w", field, err)
	}
	return fmt.Sprintf("%s %s %s", quoteIdent(field), op, holder), nil
}

func isNull(p queryir.IsNull) string {
	if p.Negate {
		return quoteIdent(p.Field) + " IS NOT NULL"
	}
	return quoteIdent(p.Field) + " IS NULL"
}

func (b *builder) and(and queryir.And) (string, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil // vacuous truth
	}
	parts := make([]string, 0, len(and.Predicates))
	for _, sub := range and.Predicates {
		s, err := b.predicate(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

// quoteIdent double-quotes an identifier. Callers validate identifiers first,
// so no escaping is needed.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// quoteTable quotes each part of a possibly schema-qualified table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}
