package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/livesync/internal/notifier"
	"github.com/roach88/livesync/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial tables
// 1 - change_log triggers on the built-in tables
const currentSchemaVersion = 1

// BuiltinTables are the synchronized tables created by the schema.
var BuiltinTables = []string{"fechamento", "tributacao"}

// Store is a SQLite data source.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db       *sql.DB
	compiler *querysql.SQLCompiler
	notifier *notifier.Notifier
	logger   *slog.Logger
	newID    func() string

	// feedMu serializes change_log reads so each change is published once.
	feedMu  sync.Mutex
	lastSeq int64

	colMu   sync.Mutex
	columns map[string]map[string]bool

	pollInterval time.Duration
	pollCancel   context.CancelFunc
	pollDone     chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithChangePolling polls change_log at the given interval so writes made by
// other processes reach subscribers. Zero disables polling.
func WithChangePolling(interval time.Duration) Option {
	return func(s *Store) {
		s.pollInterval = interval
	}
}

// WithIDGenerator overrides the row ID generator used by Insert when the row
// carries no id. Default: UUIDv7.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:       db,
		compiler: querysql.NewSQLCompiler(querysql.DialectSQLite),
		notifier: notifier.New(),
		logger:   slog.Default(),
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
		columns:  make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Changes already in the log predate every subscriber.
	if err := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM change_log").Scan(&s.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("read change sequence: %w", err)
	}

	if s.pollInterval > 0 {
		s.startPolling()
	}

	return s, nil
}

// Close stops polling, ends every subscription and closes the database.
// Safe to call more than once.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.pollCancel != nil {
			s.pollCancel()
			<-s.pollDone
		}
		if s.notifier != nil {
			s.notifier.Close()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Track installs change_log triggers on an existing table so live queries
// over it receive change events. The table must have an "id" column.
// Idempotent.
func (s *Store) Track(ctx context.Context, table string) error {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	if !cols[querysql.KeyColumn] {
		return fmt.Errorf("track %s: table has no %q column", table, querysql.KeyColumn)
	}
	for _, stmt := range triggerSQL(table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("track %s: %w", table, err)
		}
	}
	return nil
}

// Tables lists the user tables, excluding change_log.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'change_log'
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 installs change_log triggers on the built-in tables.
// CREATE TRIGGER IF NOT EXISTS makes a repeated run a no-op.
func migrateToV1(db *sql.DB) error {
	for _, table := range BuiltinTables {
		for _, stmt := range triggerSQL(table) {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v1: %w", err)
			}
		}
	}
	return nil
}

// triggerSQL returns the statements that log every mutation of table into
// change_log. table must already be validated.
func triggerSQL(table string) []string {
	const tmpl = `CREATE TRIGGER IF NOT EXISTS "livesync_%[1]s_%[2]s"
AFTER %[3]s ON "%[1]s"
BEGIN
    INSERT INTO change_log (table_name, kind, row_id) VALUES ('%[1]s', '%[3]s', %[4]s.id);
END`
	return []string{
		fmt.Sprintf(tmpl, table, "ins", "INSERT", "NEW"),
		fmt.Sprintf(tmpl, table, "upd", "UPDATE", "NEW"),
		fmt.Sprintf(tmpl, table, "del", "DELETE", "OLD"),
	}
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
