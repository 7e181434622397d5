package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/config"
)

// RootOptions holds global flags for all commands.
//
// Config and Logger are filled in by the root command before any
// subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Driver     string
	Database   string
	QueriesDir string

	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the livesync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "livesync",
		Short: "livesync - live queries over fechamento and tributação data",
		Long: `livesync keeps query results current as the underlying tables change.

Queries are declared in CUE files and run against SQLite or PostgreSQL.
Every write to a queried table refreshes the result, whether it comes from
this CLI, the HTTP server or another process.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default: ./livesync.yaml if present)")
	flags.StringVar(&opts.Driver, "driver", config.DefaultDriver, "database driver (sqlite|postgres)")
	flags.StringVar(&opts.Database, "db", config.DefaultDatabase, "SQLite file path or PostgreSQL DSN")
	flags.StringVar(&opts.QueriesDir, "queries", config.DefaultQueriesDir, "directory of CUE query definitions")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

// load resolves the configuration and installs the logger.
// Flags set on the command line win over the config file and environment.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigFile, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	level, err := cfg.Level()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	o.Config = cfg
	o.Format = cfg.Format
	o.Verbose = o.Verbose || level == slog.LevelDebug
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	if cfg.File != "" {
		o.Logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
