package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/source"
)

// Subscribe registers for change events on table that pass filter.
//
// The subscription is closed by the store on Close, which subscribers
// observe as a lost subscription.
func (s *Store) Subscribe(ctx context.Context, table string, filter ir.EventKind) (source.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewSubscriptionError(table, err)
	}
	if s.closed.Load() {
		return nil, source.NewSubscriptionError(table, ErrClosed)
	}
	return s.notifier.Subscribe(table, filter), nil
}

// ReadChanges returns change_log entries with seq > afterSeq in seq order.
// limit <= 0 means no limit.
func (s *Store) ReadChanges(ctx context.Context, afterSeq int64, limit int) ([]ir.ChangeEvent, error) {
	query := `
		SELECT seq, table_name, kind, COALESCE(row_id, '')
		FROM change_log
		WHERE seq > ?
		ORDER BY seq ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change_log: %w", err)
	}
	defer rows.Close()

	events := []ir.ChangeEvent{}
	for rows.Next() {
		var ev ir.ChangeEvent
		var kind string
		if err := rows.Scan(&ev.Seq, &ev.Table, &kind, &ev.RowID); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		ev.Kind = ir.EventKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest change sequence published so far.
func (s *Store) LastSeq() int64 {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.lastSeq
}

// PollChanges publishes change_log entries written since the last poll,
// including those written by other processes. Returns how many were
// published.
func (s *Store) PollChanges(ctx context.Context) (int, error) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	events, err := s.ReadChanges(ctx, s.lastSeq, 0)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		s.notifier.Publish(ev)
		s.lastSeq = ev.Seq
		s.logger.Debug("change published", "event", ev.String(), "seq", ev.Seq)
	}
	return len(events), nil
}

// publishChanges runs after a local write. A failure only delays delivery
// until the next write or poll, so it is logged rather than returned.
func (s *Store) publishChanges(ctx context.Context) {
	if _, err := s.PollChanges(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("publish changes failed", "error", err)
	}
}

// startPolling launches the change_log poller. Stopped by Close.
func (s *Store) startPolling() {
	ctx, cancel := context.WithCancel(context.Background())
	s.pollCancel = cancel
	s.pollDone = make(chan struct{})

	go func() {
		defer close(s.pollDone)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PollChanges(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("change poll failed", "error", err)
				}
			}
		}
	}()
}
