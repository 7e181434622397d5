package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/pgsource"
	"github.com/roach88/livesync/internal/source"
	"github.com/roach88/livesync/internal/store"
)

// ExecOptions holds flags for the exec subcommands.
type ExecOptions struct {
	*RootOptions
	Set  []string
	JSON string
}

// ExecResult is the JSON output of a write.
type ExecResult struct {
	Op    string `json:"op"`
	Table string `json:"table"`
	ID    string `json:"id"`
}

// NewExecCommand creates the exec command and its insert, update and
// delete subcommands.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Write a row; live queries on the table refresh",
		Long: `Insert, update or delete a row. Every live query over the table, in this
or any other livesync process, refetches after the write.

Values given with --set are text; "null" stores NULL. Use --json for
typed values.

Examples:
  livesync exec insert fechamento --set competencia=2024-04 --set data_fechamento=2024-05-05
  livesync exec update fechamento f-2024-04 --set status=fechado
  livesync exec delete fechamento f-2024-04
  livesync exec insert tributacao --json '{"proposta_id":"p-1","regime":"simples","aliquota":"6.00"}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	insertCmd := &cobra.Command{
		Use:           "insert <table>",
		Short:         "Insert a row and print its id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, "insert", args[0], "")
		},
	}
	updateCmd := &cobra.Command{
		Use:           "update <table> <id>",
		Short:         "Set columns on an existing row",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, "update", args[0], args[1])
		},
	}
	deleteCmd := &cobra.Command{
		Use:           "delete <table> <id>",
		Short:         "Delete a row",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts, "delete", args[0], args[1])
		},
	}

	for _, c := range []*cobra.Command{insertCmd, updateCmd} {
		c.Flags().StringArrayVar(&opts.Set, "set", nil, "column value col=value (repeatable)")
		c.Flags().StringVar(&opts.JSON, "json", "", "row as a JSON object")
	}
	cmd.AddCommand(insertCmd, updateCmd, deleteCmd)

	return cmd
}

func runExec(cmd *cobra.Command, opts *ExecOptions, op, table, id string) error {
	formatter := opts.formatter(cmd)

	var row ir.Row
	if op != "delete" {
		var err error
		if row, err = parseRow(opts.Set, opts.JSON); err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		if len(row) == 0 {
			return NewExitError(ExitCommandError, "no columns given: use --set or --json")
		}
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, opts.Config, opts.Logger, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = backend.Close() }()

	id, err = write(ctx, backend, op, table, id, row)
	if err != nil {
		code, message := writeErrorCode(err)
		if ferr := formatter.Error(code, message, nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, op+" failed", err)
	}

	formatter.VerboseLog("%s %s %s", op, table, id)
	if formatter.IsJSON() {
		return formatter.Success(ExecResult{Op: op, Table: table, ID: id})
	}
	return formatter.Success(id)
}

func write(ctx context.Context, w source.Writer, op, table, id string, row ir.Row) (string, error) {
	switch op {
	case "insert":
		return w.Insert(ctx, table, row)
	case "update":
		return id, w.Update(ctx, table, id, row)
	case "delete":
		return id, w.Delete(ctx, table, id)
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
}

// writeErrorCode returns the code and message shown for a failed write.
func writeErrorCode(err error) (string, string) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, pgsource.ErrNotFound) {
		return "NOT_FOUND", err.Error()
	}
	var srcErr *source.Error
	if errors.As(err, &srcErr) {
		return string(srcErr.Code), source.UserMessage(err)
	}
	return ErrCodeGeneric, err.Error()
}

// parseRow builds a row from --set pairs and a --json object. --set wins
// over --json for the same column.
func parseRow(set []string, raw string) (ir.Row, error) {
	row := ir.Row{}

	if raw != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
		for col, v := range obj {
			val, err := ir.FromAny(v)
			if err != nil {
				return nil, fmt.Errorf("invalid --json column %s: %w", col, err)
			}
			row[col] = val
		}
	}

	for _, s := range set {
		col, val, ok := strings.Cut(s, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid --set %q: expected col=value", s)
		}
		if val == "null" {
			row[col] = ir.Null{}
			continue
		}
		row[col] = ir.Text(val)
	}
	return row, nil
}
