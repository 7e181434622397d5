package reports

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// TableFechamento holds one row per monthly closing.
const TableFechamento = "fechamento"

// Closing statuses.
const (
	StatusAberto    = "aberto"
	StatusEmRevisao = "em_revisao"
	StatusFechado   = "fechado"
	StatusReaberto  = "reaberto"
)

// Fechamento is a monthly accounting close.
type Fechamento struct {
	ID             string          `json:"id"`
	Competencia    string          `json:"competencia"`
	DataFechamento string          `json:"data_fechamento"`
	Status         string          `json:"status"`
	Responsavel    string          `json:"responsavel,omitempty"`
	Observacao     string          `json:"observacao,omitempty"`
	ValorTotal     decimal.Decimal `json:"valor_total"`
}

// Closed reports whether the month is closed.
func (f Fechamento) Closed() bool {
	return f.Status == StatusFechado
}

// DecodeFechamento converts a fechamento row.
func DecodeFechamento(r ir.Row) (Fechamento, error) {
	f := Fechamento{ID: r.ID()}
	if f.ID == "" {
		return Fechamento{}, fmt.Errorf("fechamento row without id")
	}
	f.Competencia, _ = ir.AsString(r.Get("competencia"))
	f.DataFechamento, _ = ir.AsString(r.Get("data_fechamento"))
	f.Status, _ = ir.AsString(r.Get("status"))
	f.Responsavel, _ = ir.AsString(r.Get("responsavel"))
	f.Observacao, _ = ir.AsString(r.Get("observacao"))

	total, err := ir.AsDecimal(r.Get("valor_total"))
	if err != nil {
		return Fechamento{}, fmt.Errorf("fechamento %s: valor_total: %w", f.ID, err)
	}
	f.ValorTotal = total
	return f, nil
}

func byDataFechamento() []queryir.Order {
	return []queryir.Order{{Field: "data_fechamento", Dir: queryir.Desc}}
}

// LatestFechamentoSpec selects the most recent closing by closing date.
// No closings at all loads as an empty result.
func LatestFechamentoSpec() queryir.Spec {
	return queryir.Spec{
		From:    TableFechamento,
		OrderBy: byDataFechamento(),
		Limit:   1,
		Arity:   queryir.ArityOne,
	}
}

// FechamentoDoMesSpec selects the closing of one competencia (YYYY-MM).
// Two closings for the same month load as an ambiguous result.
func FechamentoDoMesSpec(competencia string) queryir.Spec {
	return queryir.Spec{
		From:   TableFechamento,
		Filter: queryir.Equals{Field: "competencia", Value: ir.Text(competencia)},
		Arity:  queryir.ArityOne,
	}
}

// HistoricoFechamentoSpec lists closings newest first. limit 0 lists all.
func HistoricoFechamentoSpec(limit int) queryir.Spec {
	return queryir.Spec{
		From:    TableFechamento,
		OrderBy: byDataFechamento(),
		Limit:   limit,
	}
}

// NewLatestFechamento creates the live query behind the "last closing" card.
func NewLatestFechamento(src source.Source, opts ...livequery.Option) *livequery.Query[Fechamento] {
	return livequery.New(src, LatestFechamentoSpec(), DecodeFechamento, opts...)
}

// NewFechamentoDoMes creates a live query for one month's closing.
func NewFechamentoDoMes(src source.Source, competencia string, opts ...livequery.Option) *livequery.Query[Fechamento] {
	return livequery.New(src, FechamentoDoMesSpec(competencia), DecodeFechamento, opts...)
}

// NewHistoricoFechamento creates the live query behind the closing history.
func NewHistoricoFechamento(src source.Source, limit int, opts ...livequery.Option) *livequery.Query[Fechamento] {
	return livequery.New(src, HistoricoFechamentoSpec(limit), DecodeFechamento, opts...)
}
