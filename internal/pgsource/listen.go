package pgsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/notifier"
	"github.com/roach88/livesync/internal/queryir"
)

// notification is the JSON payload sent by the trigger function.
type notification struct {
	Table string `json:"table"`
	Type  string `json:"type"`
	ID    string `json:"id"`
	Seq   int64  `json:"seq"`
}

// HandleNotification decodes a NOTIFY payload and publishes it.
func (s *Source) HandleNotification(payload string) error {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return fmt.Errorf("decode notification %q: %w", payload, err)
	}
	if n.Table == "" {
		return fmt.Errorf("notification without table: %q", payload)
	}
	kind, err := ir.ParseEventKind(n.Type)
	if err != nil || kind == ir.EventAll {
		return fmt.Errorf("notification with invalid type %q", n.Type)
	}

	ev := ir.ChangeEvent{Table: n.Table, Kind: kind, RowID: n.ID, Seq: n.Seq}

	s.mu.RLock()
	delivered := s.notifier.Publish(ev)
	s.mu.RUnlock()

	s.logger.Debug("notification received", "event", ev.String(), "delivered", delivered)
	return nil
}

// StartListening runs Listen on its own goroutine until Close. It returns
// once the first connection attempt has finished, so subscriptions made
// right after it succeed when the listener came up. If the first attempt
// failed, subscriptions fail until a retry connects.
func (s *Source) StartListening(ctx context.Context) error {
	if s.dsn == "" {
		return errors.New("listening requires a source created with Open")
	}
	s.requireListening()

	ctx, cancel := context.WithCancel(ctx)
	s.listenCancel = cancel
	s.listenDone = make(chan struct{})
	go func() {
		defer close(s.listenDone)
		_ = s.Listen(ctx)
	}()

	select {
	case <-s.firstAttempt:
	case <-ctx.Done():
	}
	return nil
}

// Listen holds a dedicated connection in LISTEN on the source's channel and
// relays notifications until ctx is cancelled. Dropped connections are
// retried with exponential backoff; each drop closes all subscriptions.
func (s *Source) Listen(ctx context.Context) error {
	if s.dsn == "" {
		return errors.New("listening requires a source created with Open")
	}

	s.requireListening()

	backoff := s.retryMin
	for {
		connected, err := s.listenOnce(ctx)
		s.attempted()
		if ctx.Err() != nil {
			s.dropSubscribers()
			return nil
		}
		if connected {
			backoff = s.retryMin
		}

		s.logger.Warn("notification listener disconnected",
			"channel", s.channel, "error", err, "retry_in", backoff)
		s.dropSubscribers()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.retryMax)
	}
}

// listenOnce runs one connection's worth of LISTEN. connected reports
// whether LISTEN succeeded before the failure.
func (s *Source) listenOnce(ctx context.Context) (connected bool, err error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.markListening()
	s.logger.Info("listening for changes", "channel", s.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		if err := s.HandleNotification(n.Payload); err != nil {
			s.logger.Warn("ignoring notification", "error", err)
		}
	}
}

// requireListening makes Subscribe depend on a live LISTEN connection.
func (s *Source) requireListening() {
	s.mu.Lock()
	s.requireListener = true
	s.mu.Unlock()
}

// markListening records that LISTEN succeeded.
func (s *Source) markListening() {
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
	s.attempted()
}

// attempted releases StartListening after the first connection attempt.
func (s *Source) attempted() {
	s.firstAttemptOnce.Do(func() { close(s.firstAttempt) })
}

// dropSubscribers marks the listener down, closes every current
// subscription and starts a fresh notifier for future subscribers.
func (s *Source) dropSubscribers() {
	s.mu.Lock()
	s.listening = false
	old := s.notifier
	s.notifier = notifier.New()
	s.mu.Unlock()
	old.Close()
}

// TriggerSQL returns the DDL that makes every mutation of the given tables
// send a JSON notification on channel.
func TriggerSQL(channel string, tables ...string) (string, error) {
	if !queryir.ValidColumn(channel) {
		return "", fmt.Errorf("invalid channel name %q", channel)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `CREATE OR REPLACE FUNCTION livesync_notify() RETURNS trigger AS $$
DECLARE
    rec RECORD;
BEGIN
    IF TG_OP = 'DELETE' THEN
        rec := OLD;
    ELSE
        rec := NEW;
    END IF;
    PERFORM pg_notify('%s', json_build_object(
        'table', TG_TABLE_NAME,
        'type', TG_OP,
        'id', rec.id::text
    )::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`, channel)

	for _, table := range tables {
		if !queryir.ValidTable(table) {
			return "", fmt.Errorf("invalid table name %q", table)
		}
		quoted := pgx.Identifier(strings.Split(table, ".")).Sanitize()
		fmt.Fprintf(&b, `
DROP TRIGGER IF EXISTS livesync_notify ON %[1]s;
CREATE TRIGGER livesync_notify
    AFTER INSERT OR UPDATE OR DELETE ON %[1]s
    FOR EACH ROW EXECUTE FUNCTION livesync_notify();
`, quoted)
	}
	return b.String(), nil
}
