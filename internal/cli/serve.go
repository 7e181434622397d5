package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/server"
)

// ServeOptions holds flags for the serve command. The values reach the
// command through RootOptions.Config; the fields only back the flags.
type ServeOptions struct {
	*RootOptions
	Listen       string
	Watch        bool
	PollInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve live queries over HTTP",
		Long: `Load every query definition, start them as live queries and serve them.

Routes:
  GET  /healthz
  GET  /api/queries
  GET  /api/queries/{name}
  POST /api/queries/{name}/refetch
  GET  /api/queries/{name}/stream   (datastar server-sent events)

With --watch, editing a .cue file under the queries directory reloads the
definitions; unchanged queries keep running.

Example:
  livesync serve --listen 127.0.0.1:8780 --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultListen, "HTTP listen address")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload query definitions when files change")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", time.Second, "sqlite change log polling interval")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg := opts.Config
	logger := opts.Logger
	queriesDir := cfg.ResolveQueriesDir()

	logger.Info("loading query definitions", "dir", queriesDir)
	defs, err := LoadValidDefinitions(queriesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load query definitions", err)
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	backend, err := openBackend(ctx, cfg, logger, true)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	registry := server.NewRegistry(backend, logger)
	if err := registry.Load(ctx, defs); err != nil {
		registry.Close()
		return WrapExitError(ExitCommandError, "failed to start queries", err)
	}

	srv := server.New(server.Config{
		Registry:   registry,
		Listen:     cfg.Listen,
		Logger:     logger,
		Watch:      cfg.Watch,
		QueriesDir: queriesDir,
		Load: func() ([]queryir.Definition, error) {
			return LoadValidDefinitions(queriesDir)
		},
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %d queries on http://%s. Press Ctrl-C to stop.\n", registry.Len(), cfg.Listen)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
