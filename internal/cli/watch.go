package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	specFlags
	Count int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <name|table>",
		Short: "Print a query's result every time it changes",
		Long: `Start a live query and print its result after every settled fetch, until
interrupted. Writes from any process reach the watcher: SQLite through
change log polling, PostgreSQL through LISTEN/NOTIFY.

Errors are printed and watching continues; the last good result stays
available and the next change triggers a new fetch.

Examples:
  livesync watch historico_fechamento
  livesync watch fechamento --where status=aberto --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args[0])
		},
	}

	opts.specFlags.register(cmd)
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many results (0 = until interrupted)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions, target string) error {
	formatter := opts.formatter(cmd)

	def, err := resolveQuery(opts.RootOptions, target, &opts.specFlags)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd, opts.Logger)
	defer cancel()

	backend, err := openBackend(ctx, opts.Config, opts.Logger, true)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = backend.Close() }()

	q := livequery.New(backend, def.Spec, livequery.Rows, livequery.WithLogger(opts.Logger))
	q.Start(ctx)
	defer q.Stop()

	if !formatter.IsJSON() {
		fmt.Fprintf(formatter.GetErrWriter(), "Watching %s on %s. Press Ctrl-C to stop.\n", def.Name, def.Spec.From)
	}

	var seen int64
	for printed := 0; opts.Count == 0 || printed < opts.Count; printed++ {
		st, err := q.WaitFor(ctx, func(s livequery.State[ir.Row]) bool {
			return s.Settled() && s.Generation > seen
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, livequery.ErrStopped) {
				return nil
			}
			return WrapExitError(ExitFailure, "watch failed", err)
		}
		seen = st.Generation
		if err := printGeneration(formatter, def, st); err != nil {
			return err
		}
	}
	return nil
}

// printGeneration writes one settled state without ending the watch.
func printGeneration(formatter *OutputFormatter, def queryir.Definition, st livequery.State[ir.Row]) error {
	if !formatter.IsJSON() {
		live := "live"
		if !st.Live {
			live = "not live"
		}
		fmt.Fprintf(formatter.Writer, "-- generation %d (%s, %s)\n", st.Generation, st.Status, live)
	}

	err := printState(formatter, def, st)
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code == ExitFailure {
		return nil
	}
	return err
}
