package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/compiler"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/querysql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output  string // output file path
	Dialect string // "" for both
}

// CompiledQuery is one definition with its fingerprint and generated SQL.
type CompiledQuery struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Spec        map[string]any          `json:"spec"`
	Hash        string                  `json:"hash"`
	SQL         map[string]CompiledStmt `json:"sql"`
}

// CompiledStmt is a statement and its bound parameters.
type CompiledStmt struct {
	Query  string `json:"query"`
	Params []any  `json:"params"`
}

// CompilationResult holds the compiled queries.
type CompilationResult struct {
	Queries []CompiledQuery `json:"queries"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [queries-dir]",
		Short: "Show the SQL each query definition compiles to",
		Long: `Compile the CUE query definitions and print, for each query, its
canonical description, fingerprint and the SQL run against SQLite and
PostgreSQL. Defaults to the configured queries directory.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.ResolveQueriesDir()
			if len(args) == 1 {
				dir = args[0]
			}
			return runCompile(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "only this dialect (sqlite|postgres)")

	return cmd
}

func runCompile(opts *CompileOptions, queriesDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	compilers, err := dialectCompilers(opts.Dialect)
	if err != nil {
		return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	// Use shared loader with collect-all mode
	loadResult, loadErrors := LoadDefinitions(queriesDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, queriesDir)

	for _, verr := range compiler.ValidateAll(loadResult.Definitions) {
		loadErrors = append(loadErrors, verr)
	}
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{}
	for _, def := range loadResult.Definitions {
		formatter.VerboseLog("Compiling query: %s", def.Name)
		cq, err := compileDefinition(def, compilers)
		if err != nil {
			return outputCompileError(formatter, compiler.ErrInvalidSpec, err.Error(), nil)
		}
		result.Queries = append(result.Queries, cq)
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeResultToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// dialectCompilers returns the SQL compilers to run, keyed by dialect name.
func dialectCompilers(only string) ([]*querysql.SQLCompiler, error) {
	all := []*querysql.SQLCompiler{
		querysql.NewSQLCompiler(querysql.DialectSQLite),
		querysql.NewSQLCompiler(querysql.DialectPostgres),
	}
	if only == "" {
		return all, nil
	}
	for _, c := range all {
		if c.Dialect().String() == only {
			return []*querysql.SQLCompiler{c}, nil
		}
	}
	return nil, fmt.Errorf("unknown dialect %q: must be sqlite or postgres", only)
}

func compileDefinition(def queryir.Definition, compilers []*querysql.SQLCompiler) (CompiledQuery, error) {
	desc := def.Spec.Describe()
	hash, err := ir.SpecHash(desc)
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("query %s: %w", def.Name, err)
	}
	cq := CompiledQuery{
		Name:        def.Name,
		Description: def.Description,
		Spec:        desc,
		Hash:        hash,
		SQL:         make(map[string]CompiledStmt, len(compilers)),
	}
	for _, c := range compilers {
		query, params, err := c.Compile(def.Spec)
		if err != nil {
			return CompiledQuery{}, fmt.Errorf("query %s (%s): %w", def.Name, c.Dialect(), err)
		}
		if params == nil {
			params = []any{}
		}
		cq.SQL[c.Dialect().String()] = CompiledStmt{Query: query, Params: params}
	}
	return cq, nil
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	// Human-readable text output
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d query(s)\n\n", len(result.Queries))

	for _, q := range result.Queries {
		fmt.Fprintf(formatter.Writer, "%s (%s, arity %v)\n", q.Name, q.Spec["from"], q.Spec["arity"])
		if q.Description != "" {
			fmt.Fprintf(formatter.Writer, "  %s\n", q.Description)
		}
		for _, dialect := range []string{"sqlite", "postgres"} {
			stmt, ok := q.SQL[dialect]
			if !ok {
				continue
			}
			fmt.Fprintf(formatter.Writer, "  %-8s  %s\n", dialect, stmt.Query)
			if len(stmt.Params) > 0 {
				fmt.Fprintf(formatter.Writer, "  %-8s  %v\n", "", stmt.Params)
			}
		}
		fmt.Fprintln(formatter.Writer)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote compiled queries to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.IsJSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{
				Code:    code,
				Message: message,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, verr.Error()
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return MapFieldToErrorCode(compileErr.Field), compileErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeResultToFile writes the compilation result as indented JSON.
func writeResultToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
