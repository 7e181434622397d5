package pgsource

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// classify maps a driver error onto a source.Error code.
//
// SQLSTATE classes 42 (syntax error or access rule violation), 22 (data
// exception) and 23 (integrity constraint) mean the statement itself is
// wrong. Everything else, including connection failures, is transport.
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

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return source.NewTransportError(table, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "42"),
			strings.HasPrefix(pgErr.Code, "22"),
			strings.HasPrefix(pgErr.Code, "23"):
			return source.NewQueryError(table, pgErr.Message, err)
		}
	}

	return source.NewTransportError(table, err)
}
