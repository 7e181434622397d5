package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/server"
	"github.com/roach88/livesync/internal/source"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	specFlags
	Timeout time.Duration
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <name|table>",
		Short: "Run a query once and print the result",
		Long: `Run a named query from the queries directory, or an ad hoc query over a
table, and print the settled result.

A query that fails prints its error code and user message and exits 1.

Examples:
  livesync query latest_fechamento
  livesync query fechamento --where status=aberto --order "data_fechamento desc"
  livesync query fechamento --where competencia=2024-03 --one --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, args[0])
		},
	}

	opts.specFlags.register(cmd)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "maximum time to wait for the result")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions, target string) error {
	formatter := opts.formatter(cmd)

	def, err := resolveQuery(opts.RootOptions, target, &opts.specFlags)
	if err != nil {
		return err
	}
	formatter.VerboseLog("query %s on %s", def.Name, def.Spec.From)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	backend, err := openBackend(ctx, opts.Config, opts.Logger, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = backend.Close() }()

	q := livequery.New(backend, def.Spec, livequery.Rows, livequery.WithLogger(opts.Logger))
	q.Start(ctx)
	defer q.Stop()

	st, err := q.WaitFor(ctx, livequery.State[ir.Row].Settled)
	if err != nil {
		return WrapExitError(ExitCommandError, "query did not settle", err)
	}
	return printState(formatter, def, st)
}

// printState writes one settled state. An errored state is reported with
// its code and user message and returned as an ExitFailure.
func printState(formatter *OutputFormatter, def queryir.Definition, st livequery.State[ir.Row]) error {
	if st.Status == livequery.StatusErrored {
		code := string(source.CodeOf(st.Err))
		if err := formatter.Error(code, st.Message, nil); err != nil {
			return err
		}
		return WrapExitError(ExitFailure, "query failed", st.Err)
	}

	if formatter.IsJSON() {
		return formatter.Success(server.NewView(def, st))
	}
	RenderRows(formatter.Writer, def.Spec.Columns, st.Result.Rows)
	return nil
}
