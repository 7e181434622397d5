package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/livesync/internal/ir"
)

// createTestStore creates a new store in a per-test temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertFechamento inserts a closing row with minimal required fields.
func insertFechamento(t *testing.T, s *Store, id, competencia, data string) {
	t.Helper()
	_, err := s.Insert(context.Background(), "fechamento", ir.Row{
		"id":              ir.Text(id),
		"competencia":     ir.Text(competencia),
		"data_fechamento": ir.Text(data),
	})
	if err != nil {
		t.Fatalf("Insert(%s) failed: %v", id, err)
	}
}
