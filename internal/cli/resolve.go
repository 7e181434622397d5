package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/compiler"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// specFlags builds an ad hoc query over a table from the command line.
type specFlags struct {
	Where   []string
	Order   string
	Limit   int
	One     bool
	Columns []string
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.Where, "where", nil, "filter col=value (repeatable; value null matches NULL)")
	cmd.Flags().StringVar(&f.Order, "order", "", `sort clause, e.g. "data_fechamento desc"`)
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows (0 = no limit)")
	cmd.Flags().BoolVar(&f.One, "one", false, "expect at most one row")
	cmd.Flags().StringSliceVar(&f.Columns, "columns", nil, "columns to select (default all)")
}

// set reports whether any ad hoc flag was given.
func (f *specFlags) set() bool {
	return len(f.Where) > 0 || f.Order != "" || f.Limit != 0 || f.One || len(f.Columns) > 0
}

// spec builds a Spec over table.
func (f *specFlags) spec(table string) (queryir.Spec, error) {
	spec := queryir.Spec{
		From:    table,
		Columns: f.Columns,
		Limit:   f.Limit,
	}
	if f.One {
		spec.Arity = queryir.ArityOne
	}

	var preds []queryir.Predicate
	for _, w := range f.Where {
		col, val, ok := strings.Cut(w, "=")
		if !ok || col == "" {
			return queryir.Spec{}, fmt.Errorf("invalid --where %q: expected col=value", w)
		}
		if val == "null" {
			preds = append(preds, queryir.IsNull{Field: col})
			continue
		}
		preds = append(preds, queryir.Equals{Field: col, Value: ir.Text(val)})
	}
	switch len(preds) {
	case 0:
	case 1:
		spec.Filter = preds[0]
	default:
		spec.Filter = queryir.And{Predicates: preds}
	}

	if f.Order != "" {
		orders, err := queryir.ParseOrder(f.Order)
		if err != nil {
			return queryir.Spec{}, err
		}
		spec.OrderBy = orders
	}
	return spec, nil
}

// resolveQuery finds what to run for target: a named definition from the
// queries directory or, failing that, an ad hoc query over the table of
// that name. Ad hoc flags always select a table query.
func resolveQuery(opts *RootOptions, target string, flags *specFlags) (queryir.Definition, error) {
	if !flags.set() {
		if def, ok, err := findDefinition(opts.Config.ResolveQueriesDir(), target); err != nil {
			return queryir.Definition{}, err
		} else if ok {
			return def, nil
		}
	}

	spec, err := flags.spec(target)
	if err != nil {
		return queryir.Definition{}, NewExitError(ExitCommandError, err.Error())
	}
	def := queryir.Definition{Name: "adhoc", Spec: spec}
	if errs := compiler.Validate(def); len(errs) > 0 {
		return queryir.Definition{}, WrapExitError(ExitCommandError, "invalid query", errs[0])
	}
	return def, nil
}

// findDefinition looks name up in dir. A missing or empty directory is not
// an error; broken definitions are.
func findDefinition(dir, name string) (queryir.Definition, bool, error) {
	if _, err := os.Stat(dir); err != nil {
		return queryir.Definition{}, false, nil
	}
	if files, err := FindCUEFiles(dir); err != nil || len(files) == 0 {
		return queryir.Definition{}, false, nil
	}
	defs, err := LoadValidDefinitions(dir)
	if err != nil {
		return queryir.Definition{}, false, WrapExitError(ExitCommandError, "failed to load query definitions", err)
	}
	for _, def := range defs {
		if def.Name == name {
			return def, true, nil
		}
	}
	return queryir.Definition{}, false, nil
}
