package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/pgsource"
	"github.com/roach88/livesync/internal/source"
	"github.com/roach88/livesync/internal/store"
)

// Backend is a data source the CLI can both query and write to.
type Backend interface {
	source.Source
	source.Writer
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*pgsource.Source)(nil)
)

// openBackend opens the database named by cfg.
//
// SQLite picks up writes from other processes by polling its change log
// every cfg.PollInterval. PostgreSQL starts a LISTEN connection on
// cfg.NotifyChannel when listen is true; one-shot commands skip it.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger, listen bool) (Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		opts := []store.Option{store.WithLogger(logger)}
		if listen {
			opts = append(opts, store.WithChangePolling(cfg.PollInterval))
		}
		st, err := store.Open(cfg.Database, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database %s: %w", cfg.Database, err)
		}
		return st, nil

	case config.DriverPostgres:
		pg, err := pgsource.Open(ctx, cfg.Database,
			pgsource.WithLogger(logger),
			pgsource.WithChannel(cfg.NotifyChannel),
		)
		if err != nil {
			return nil, err
		}
		if listen {
			if err := pg.StartListening(ctx); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		return pg, nil

	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// initBackend creates the built-in tables and change tracking.
func initBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Driver {
	case config.DriverSQLite:
		// Open applies the schema and triggers.
		st, err := store.Open(cfg.Database, store.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open sqlite database %s: %w", cfg.Database, err)
		}
		return st.Close()

	case config.DriverPostgres:
		pg, err := pgsource.Open(ctx, cfg.Database,
			pgsource.WithLogger(logger),
			pgsource.WithChannel(cfg.NotifyChannel),
		)
		if err != nil {
			return err
		}
		defer func() { _ = pg.Close() }()
		return pg.Init(ctx)

	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}
