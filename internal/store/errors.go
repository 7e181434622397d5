package store

import (
	"context"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// ErrNotFound is returned by Update and Delete when no row has the given id.
var ErrNotFound = errors.New("row not found")

// ErrClosed is the cause of errors returned after Close.
var ErrClosed = errors.New("store is closed")

// classify maps a driver error onto a source.Error code.
//
// SQLITE_ERROR covers unknown tables and columns and syntax errors, so it is
// a query error. Lock contention, I/O and open failures mean the backend is
// unusable right now and are transport errors.
func classify(table string, err error) error {
	if err == nil {
		return nil
	}

	var se *source.Error
	if errors.As(err, &se) {
		return err
	}

	var verr *queryir.ValidationError
	if errors.As(err, &verr) {
		return source.NewQueryError(table, "invalid query", err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
		return source.NewTransportError(table, err)
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrError, sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrRange:
			return source.NewQueryError(table, "query rejected by database", err)
		default:
			return source.NewTransportError(table, err)
		}
	}

	return source.NewTransportError(table, err)
}
