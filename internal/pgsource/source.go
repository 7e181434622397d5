package pgsource

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/notifier"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/querysql"
	"github.com/roach88/livesync/internal/source"
)

//go:embed schema.sql
var schemaSQL string

// DefaultChannel is the NOTIFY channel used when none is configured.
const DefaultChannel = "livesync_changes"

// ErrNotFound is returned by Update and Delete when no row has the given id.
var ErrNotFound = errors.New("row not found")

// ErrNotListening is the cause of subscription errors while the source
// listens for notifications but has no LISTEN connection.
var ErrNotListening = errors.New("notification listener not connected")

// Source is a PostgreSQL data source.
type Source struct {
	db       *sql.DB
	dsn      string
	channel  string
	compiler *querysql.SQLCompiler
	logger   *slog.Logger
	newID    func() string

	retryMin time.Duration
	retryMax time.Duration

	mu       sync.RWMutex
	notifier *notifier.Notifier
	// Set once listening starts. Subscribe then fails unless a LISTEN
	// connection is up, since notifications sent without one are lost.
	requireListener bool
	listening       bool

	firstAttempt     chan struct{}
	firstAttemptOnce sync.Once

	listenCancel context.CancelFunc
	listenDone   chan struct{}
	closeOnce    sync.Once
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		s.logger = l
	}
}

// WithChannel sets the NOTIFY channel. Default: DefaultChannel.
func WithChannel(channel string) Option {
	return func(s *Source) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithIDGenerator overrides the row ID generator used by Insert.
func WithIDGenerator(gen func() string) Option {
	return func(s *Source) {
		s.newID = gen
	}
}

// WithReconnect sets the listener's reconnect backoff bounds.
func WithReconnect(initial, limit time.Duration) Option {
	return func(s *Source) {
		s.retryMin = initial
		s.retryMax = limit
	}
}

// New wraps an open database handle. Without a DSN the source cannot
// LISTEN, so subscriptions only see events passed to HandleNotification.
func New(db *sql.DB, opts ...Option) *Source {
	s := &Source{
		db:           db,
		channel:      DefaultChannel,
		compiler:     querysql.NewSQLCompiler(querysql.DialectPostgres),
		logger:       slog.Default(),
		newID:        func() string { return uuid.Must(uuid.NewV7()).String() },
		retryMin:     500 * time.Millisecond,
		retryMax:     30 * time.Second,
		notifier:     notifier.New(),
		firstAttempt: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Source, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := New(db, opts...)
	s.dsn = dsn
	return s, nil
}

// DB returns the underlying sql.DB.
func (s *Source) DB() *sql.DB {
	return s.db
}

// Channel returns the NOTIFY channel name.
func (s *Source) Channel() string {
	return s.channel
}

// Init creates the built-in tables and installs notification triggers on
// them. Idempotent.
func (s *Source) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	ddl, err := TriggerSQL(s.channel, "fechamento", "tributacao")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("install triggers: %w", err)
	}
	return nil
}

// Fetch runs spec and returns the rows in spec order.
// Errors are *source.Error values.
func (s *Source) Fetch(ctx context.Context, spec queryir.Spec) ([]ir.Row, error) {
	query, params, err := s.compiler.Compile(spec)
	if err != nil {
		return nil, classify(spec.From, err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, classify(spec.From, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows)
	if err != nil {
		return nil, classify(spec.From, err)
	}
	return result, nil
}

// Subscribe registers for change events on table that pass filter. Once
// the source listens for notifications, Subscribe fails with a
// SUBSCRIPTION error while the LISTEN connection is down.
func (s *Source) Subscribe(ctx context.Context, table string, filter ir.EventKind) (source.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewSubscriptionError(table, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.requireListener && !s.listening {
		return nil, source.NewSubscriptionError(table, ErrNotListening)
	}
	return s.notifier.Subscribe(table, filter), nil
}

// Listening reports whether a LISTEN connection is up.
func (s *Source) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listening
}

// Insert adds a row and returns its id.
func (s *Source) Insert(ctx context.Context, table string, row ir.Row) (string, error) {
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
	return id, nil
}

// Update sets the given columns on the row with id.
func (s *Source) Update(ctx context.Context, table, id string, set ir.Row) error {
	query, params, err := s.compiler.CompileUpdate(table, id, set)
	if err != nil {
		return source.NewQueryError(table, "invalid update", err)
	}
	return s.execOne(ctx, table, id, query, params)
}

// Delete removes the row with id.
func (s *Source) Delete(ctx context.Context, table, id string) error {
	query, params, err := s.compiler.CompileDelete(table, id)
	if err != nil {
		return source.NewQueryError(table, "invalid delete", err)
	}
	return s.execOne(ctx, table, id, query, params)
}

func (s *Source) execOne(ctx context.Context, table, id, query string, params []any) error {
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return classify(table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// Close stops the listener, ends every subscription and closes the
// database handle.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listenCancel != nil {
			s.listenCancel()
			<-s.listenDone
		}
		s.mu.RLock()
		s.notifier.Close()
		s.mu.RUnlock()
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

// scanRows converts every remaining row into an ir.Row.
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
			v, err := fromPG(values[i])
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

// fromPG converts a scanned value, falling back to the text form of types
// the driver hands back as Stringers (uuid, intervals).
func fromPG(v any) (ir.Value, error) {
	val, err := ir.FromSQL(v)
	if err == nil {
		return val, nil
	}
	if s, ok := v.(fmt.Stringer); ok {
		return ir.Text(s.String()), nil
	}
	return nil, err
}
