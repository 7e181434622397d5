package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/config"
)

// SampleQueries is the definitions file written by init.
const SampleQueries = `package queries

query: latest_fechamento: {
	description: "Most recent monthly closing"
	from:        "fechamento"
	order:       "data_fechamento desc"
	limit:       1
	arity:       "one"
}

query: historico_fechamento: {
	description: "Closing history, newest first"
	from:        "fechamento"
	columns: ["id", "competencia", "data_fechamento", "status", "valor_total"]
	order: "data_fechamento desc"
	limit: 24
}

query: fechamentos_pendentes: {
	description: "Closings not yet closed"
	from:        "fechamento"
	compare: [{field: "status", op: "<>", value: "fechado"}]
	order: "competencia"
}

query: tributacao: {
	description: "Taxation regimes by proposal"
	from:        "tributacao"
	order:       "atualizado_em desc"
}
`

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force bool
}

// InitResult is the JSON output of init.
type InitResult struct {
	Config   string `json:"config"`
	Queries  string `json:"queries"`
	Driver   string `json:"driver"`
	Database string `json:"database"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a config file, sample queries and the database schema",
		Long: `Write livesync.yaml and a queries directory with sample definitions into
dir (default: the current directory), then create the fechamento and
tributacao tables and their change tracking in the configured database.

Existing files are kept unless --force is given. The schema step is
idempotent.

Examples:
  livesync init
  livesync init --driver postgres --db postgres://localhost/contabil`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runInit(cmd, opts, dir)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")

	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions, dir string) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create directory", err)
	}

	cfgPath := filepath.Join(dir, "livesync.yaml")
	if err := writeFileIfAbsent(cfgPath, config.Sample, opts.Force); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write config", err)
	}
	formatter.VerboseLog("wrote %s", cfgPath)

	queriesDir := filepath.Join(dir, config.DefaultQueriesDir)
	if err := os.MkdirAll(queriesDir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create queries directory", err)
	}
	queriesPath := filepath.Join(queriesDir, "queries.cue")
	if err := writeFileIfAbsent(queriesPath, SampleQueries, opts.Force); err != nil {
		_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write sample queries", err)
	}
	formatter.VerboseLog("wrote %s", queriesPath)

	if err := initBackend(cmd.Context(), cfg, opts.Logger); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize database", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(InitResult{
			Config:   cfgPath,
			Queries:  queriesPath,
			Driver:   cfg.Driver,
			Database: cfg.Database,
		})
	}
	fmt.Fprintf(formatter.Writer, "Initialized livesync in %s\n", dir)
	fmt.Fprintf(formatter.Writer, "  config:   %s\n", cfgPath)
	fmt.Fprintf(formatter.Writer, "  queries:  %s\n", queriesPath)
	fmt.Fprintf(formatter.Writer, "  database: %s (%s)\n", cfg.Database, cfg.Driver)
	return nil
}

// writeFileIfAbsent writes content to path. An existing file is left alone
// unless force is set.
func writeFileIfAbsent(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
