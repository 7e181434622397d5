package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// Fetch runs spec against the database and returns the rows in spec order.
// Errors are *source.Error values.
func (s *Store) Fetch(ctx context.Context, spec queryir.Spec) ([]ir.Row, error) {
	if s.closed.Load() {
		return nil, classify(spec.From, ErrClosed)
	}

	query, params, err := s.compiler.Compile(spec)
	if err != nil {
		return nil, classify(spec.From, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, classify(spec.From, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, classify(spec.From, err)
	}
	return result, nil
}

// scanRows converts every remaining row into an ir.Row.
// Returns an empty slice (not nil) when there are no rows.
func scanRows(rows *sql.Rows) ([]ir.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := []ir.Row{}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(ir.Row, len(cols))
		for i, col := range cols {
			v, err := ir.FromSQL(values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			row[col] = v
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
