package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/querysql"
	"github.com/roach88/livesync/internal/source"
)

// Insert adds a row to table and returns its id. A row without an id gets a
// fresh one from the store's ID generator.
//
// Columns are checked against the table schema before anything is written.
// The change is published to subscribers before Insert returns.
func (s *Store) Insert(ctx context.Context, table string, row ir.Row) (string, error) {
	if s.closed.Load() {
		return "", classify(table, ErrClosed)
	}
	if err := s.checkColumns(ctx, table, row); err != nil {
		return "", err
	}

	row = row.Clone()
	id := row.ID()
	if id == "" {
		id = s.newID()
		row[querysql.KeyColumn] = ir.Text(id)
	}

	query, params, err := s.compiler.CompileInsert(table, row)
	if err != nil {
		return "", source.NewQueryError(table, "invalid insert", err)
	}
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return "", classify(table, fmt.Errorf("insert into %s: %w", table, err))
	}

	s.publishChanges(ctx)
	return id, nil
}

// Update sets the given columns on the row with id.
// Returns ErrNotFound (wrapped) if no such row exists.
func (s *Store) Update(ctx context.Context, table, id string, set ir.Row) error {
	if s.closed.Load() {
		return classify(table, ErrClosed)
	}
	if err := s.checkColumns(ctx, table, set); err != nil {
		return err
	}

	query, params, err := s.compiler.CompileUpdate(table, id, set)
	if err != nil {
		return source.NewQueryError(table, "invalid update", err)
	}
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return classify(table, fmt.Errorf("update %s: %w", table, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}

	s.publishChanges(ctx)
	return nil
}

// Delete removes the row with id.
// Returns ErrNotFound (wrapped) if no such row exists.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if s.closed.Load() {
		return classify(table, ErrClosed)
	}
	if _, err := s.tableColumns(ctx, table); err != nil {
		return err
	}

	query, params, err := s.compiler.CompileDelete(table, id)
	if err != nil {
		return source.NewQueryError(table, "invalid delete", err)
	}
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return classify(table, fmt.Errorf("delete from %s: %w", table, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s %s: %w", table, id, ErrNotFound)
	}

	s.publishChanges(ctx)
	return nil
}

// Columns returns the table's column names in sorted order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)
	return names, nil
}

// checkColumns rejects rows naming columns the table does not have.
func (s *Store) checkColumns(ctx context.Context, table string, row ir.Row) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	for _, k := range row.SortedKeys() {
		if !cols[k] {
			return source.NewQueryError(table, fmt.Sprintf("unknown column %q", k), nil)
		}
	}
	return nil
}

// tableColumns returns the column set of table, cached after the first
// lookup. An unknown table is a query error.
func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	if !queryir.ValidColumn(table) {
		return nil, source.NewQueryError(table, "invalid table name", nil)
	}

	s.colMu.Lock()
	defer s.colMu.Unlock()
	if cols, ok := s.columns[table]; ok {
		return cols, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table))
	if err != nil {
		return nil, classify(table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify(table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, classify(table, err)
	}
	if len(cols) == 0 {
		return nil, source.NewQueryError(table, "no such table", nil)
	}

	s.columns[table] = cols
	return cols, nil
}
