package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/reports"
	"github.com/roach88/livesync/internal/source"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Competencia string
	Proposta    string
	Timeout     time.Duration
}

// Report is the dashboard snapshot printed by the report command.
type Report struct {
	Resumo           reports.Summary     `json:"resumo"`
	UltimoFechamento *reports.Fechamento `json:"ultimo_fechamento,omitempty"`
	FechamentoDoMes  *reports.Fechamento `json:"fechamento_do_mes,omitempty"`
	Tributacao       *TributacaoReport   `json:"tributacao,omitempty"`
	Errors           []CLIError          `json:"errors,omitempty"`
}

// TributacaoReport is a taxation record with the tax due.
type TributacaoReport struct {
	reports.Tributacao
	Imposto *decimal.Decimal `json:"imposto,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the closing dashboard",
		Long: `Print the closing dashboard: a summary of every closing, the latest
closing, and optionally one month's closing and one proposal's taxation.

Examples:
  livesync report
  livesync report --competencia 2024-03 --proposta p-17
  livesync report --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Competencia, "competencia", "", "also show the closing of this month (YYYY-MM)")
	cmd.Flags().StringVar(&opts.Proposta, "proposta", "", "also show the taxation of this proposal")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "maximum time to wait for the results")

	return cmd
}

func runReport(cmd *cobra.Command, opts *ReportOptions) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	backend, err := openBackend(ctx, opts.Config, opts.Logger, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() { _ = backend.Close() }()

	qopts := []livequery.Option{livequery.WithLogger(opts.Logger)}
	var rep Report
	failed := func(section string, st livequery.State[reports.Fechamento]) {
		rep.Errors = append(rep.Errors, CLIError{
			Code:    string(source.CodeOf(st.Err)),
			Message: st.Message,
			Details: section,
		})
	}

	historico, err := settle(ctx, reports.NewHistoricoFechamento(backend, 0, qopts...))
	if err != nil {
		return WrapExitError(ExitCommandError, "report did not settle", err)
	}
	if historico.Status == livequery.StatusErrored {
		failed("historico", historico)
	} else {
		rep.Resumo = reports.Summarize(historico.Result.Rows)
	}

	latest, err := settle(ctx, reports.NewLatestFechamento(backend, qopts...))
	if err != nil {
		return WrapExitError(ExitCommandError, "report did not settle", err)
	}
	if latest.Status == livequery.StatusErrored {
		failed("ultimo_fechamento", latest)
	} else if f, ok := latest.Result.One(); ok {
		rep.UltimoFechamento = &f
	}

	if opts.Competencia != "" {
		mes, err := settle(ctx, reports.NewFechamentoDoMes(backend, opts.Competencia, qopts...))
		if err != nil {
			return WrapExitError(ExitCommandError, "report did not settle", err)
		}
		if mes.Status == livequery.StatusErrored {
			failed("fechamento_do_mes", mes)
		} else if f, ok := mes.Result.One(); ok {
			rep.FechamentoDoMes = &f
		}
	}

	if opts.Proposta != "" {
		trib, err := settle(ctx, reports.NewTributacao(backend, opts.Proposta, qopts...))
		if err != nil {
			return WrapExitError(ExitCommandError, "report did not settle", err)
		}
		if trib.Status == livequery.StatusErrored {
			rep.Errors = append(rep.Errors, CLIError{
				Code:    string(source.CodeOf(trib.Err)),
				Message: trib.Message,
				Details: "tributacao",
			})
		} else if t, ok := trib.Result.One(); ok {
			tr := &TributacaoReport{Tributacao: t}
			if imposto, ok := t.Imposto(); ok {
				tr.Imposto = &imposto
			}
			rep.Tributacao = tr
		}
	}

	if formatter.IsJSON() {
		if err := formatter.Success(rep); err != nil {
			return err
		}
	} else {
		renderReport(formatter.Writer, opts, rep)
	}
	if len(rep.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d report section(s) failed", len(rep.Errors)))
	}
	return nil
}

// settle starts q, waits for its first settled state and stops it.
func settle[T any](ctx context.Context, q *livequery.Query[T]) (livequery.State[T], error) {
	q.Start(ctx)
	defer q.Stop()
	return q.WaitFor(ctx, livequery.State[T].Settled)
}

func renderReport(w io.Writer, opts *ReportOptions, rep Report) {
	s := rep.Resumo
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Resumo")
	t.AppendRow(table.Row{"fechamentos", s.Total})
	t.AppendRow(table.Row{"pendentes", s.Pendentes})
	t.AppendRow(table.Row{"valor total", s.ValorTotal.StringFixed(2)})
	t.AppendRow(table.Row{"última competência", s.UltimaCompetencia})
	statuses := make([]string, 0, len(s.PorStatus))
	for status := range s.PorStatus {
		statuses = append(statuses, status)
	}
	slices.Sort(statuses)
	for _, status := range statuses {
		t.AppendRow(table.Row{"  " + status, s.PorStatus[status]})
	}
	t.Render()

	printFechamento(w, "Último fechamento", rep.UltimoFechamento)
	if opts.Competencia != "" {
		printFechamento(w, "Fechamento "+opts.Competencia, rep.FechamentoDoMes)
	}
	if opts.Proposta != "" {
		fmt.Fprintf(w, "\nTributação %s\n", opts.Proposta)
		if tr := rep.Tributacao; tr != nil {
			fmt.Fprintf(w, "  regime:   %s\n", tr.Regime)
			fmt.Fprintf(w, "  alíquota: %s%%\n", tr.Aliquota.String())
			if tr.Imposto != nil {
				fmt.Fprintf(w, "  imposto:  %s\n", tr.Imposto.StringFixed(2))
			}
		} else {
			fmt.Fprintln(w, "  (nenhuma)")
		}
	}

	for _, e := range rep.Errors {
		fmt.Fprintf(w, "\nError [%s] %v: %s\n", e.Code, e.Details, e.Message)
	}
}

func printFechamento(w io.Writer, title string, f *reports.Fechamento) {
	fmt.Fprintf(w, "\n%s\n", title)
	if f == nil {
		fmt.Fprintln(w, "  (nenhum)")
		return
	}
	fmt.Fprintf(w, "  %s  %s  %s  %s\n", f.Competencia, f.DataFechamento, f.Status, f.ValorTotal.StringFixed(2))
}
