package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/store"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	*RootOptions
	After int64
	Limit int
	Table string
}

// ChangesResult holds the change log timeline.
type ChangesResult struct {
	Changes []ir.ChangeEvent `json:"changes"`
	LastSeq int64            `json:"last_seq"`
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Show the SQLite change log",
		Long: `Show the change log the SQLite backend keeps for every insert, update and
delete on a tracked table. These entries are what wake live queries in
other processes.

Examples:
  livesync changes
  livesync changes --after 120 --table fechamento
  livesync changes --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only entries after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum entries (0 = all)")
	cmd.Flags().StringVar(&opts.Table, "table", "", "only entries for this table")

	return cmd
}

func runChanges(opts *ChangesOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Config.Driver != config.DriverSQLite {
		return NewExitError(ExitCommandError, "changes is only available for the sqlite driver")
	}

	st, err := store.Open(opts.Config.Database, store.WithLogger(opts.Logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = st.Close() }()

	events, err := st.ReadChanges(cmd.Context(), opts.After, 0)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	result := ChangesResult{Changes: []ir.ChangeEvent{}, LastSeq: opts.After}
	for _, ev := range events {
		if ev.Seq > result.LastSeq {
			result.LastSeq = ev.Seq
		}
		if opts.Table != "" && ev.Table != opts.Table {
			continue
		}
		if opts.Limit > 0 && len(result.Changes) >= opts.Limit {
			continue
		}
		result.Changes = append(result.Changes, ev)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	renderChanges(formatter, result)
	return nil
}

func renderChanges(formatter *OutputFormatter, result ChangesResult) {
	w := formatter.Writer
	if len(result.Changes) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"seq", "table", "type", "id"})
	for _, ev := range result.Changes {
		t.AppendRow(table.Row{ev.Seq, ev.Table, string(ev.Kind), ev.RowID})
	}
	t.Render()
	fmt.Fprintf(w, "(%d changes, last seq %d)\n", len(result.Changes), result.LastSeq)
}
