package reports

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// TableTributacao holds the taxation regime chosen for each proposal.
const TableTributacao = "tributacao"

// Tax regimes.
const (
	RegimeSimples   = "simples"
	RegimePresumido = "presumido"
	RegimeReal      = "real"
)

// Tributacao is the taxation classification of a business proposal.
type Tributacao struct {
	ID           string              `json:"id"`
	PropostaID   string              `json:"proposta_id"`
	Regime       string              `json:"regime"`
	Aliquota     decimal.Decimal     `json:"aliquota"`
	BaseCalculo  decimal.NullDecimal `json:"base_calculo"`
	AtualizadoEm string              `json:"atualizado_em,omitempty"`
}

// Imposto returns the tax due: base times rate percent. ok is false when
// the base is unknown.
func (t Tributacao) Imposto() (decimal.Decimal, bool) {
	if !t.BaseCalculo.Valid {
		return decimal.Zero, false
	}
	return t.BaseCalculo.Decimal.Mul(t.Aliquota).Div(decimal.NewFromInt(100)).Round(2), true
}

// DecodeTributacao converts a tributacao row.
func DecodeTributacao(r ir.Row) (Tributacao, error) {
	t := Tributacao{ID: r.ID()}
	if t.ID == "" {
		return Tributacao{}, fmt.Errorf("tributacao row without id")
	}
	t.PropostaID, _ = ir.AsString(r.Get("proposta_id"))
	t.Regime, _ = ir.AsString(r.Get("regime"))
	t.AtualizadoEm, _ = ir.AsString(r.Get("atualizado_em"))

	rate, err := ir.AsDecimal(r.Get("aliquota"))
	if err != nil {
		return Tributacao{}, fmt.Errorf("tributacao %s: aliquota: %w", t.ID, err)
	}
	t.Aliquota = rate

	if base := r.Get("base_calculo"); !isNull(base) {
		d, err := ir.AsDecimal(base)
		if err != nil {
			return Tributacao{}, fmt.Errorf("tributacao %s: base_calculo: %w", t.ID, err)
		}
		t.BaseCalculo = decimal.NewNullDecimal(d)
	}
	return t, nil
}

// TributacaoSpec selects the taxation record of one proposal.
func TributacaoSpec(propostaID string) queryir.Spec {
	return queryir.Spec{
		From:   TableTributacao,
		Filter: queryir.Equals{Field: "proposta_id", Value: ir.Text(propostaID)},
		Arity:  queryir.ArityOne,
	}
}

// NewTributacao creates the live query for a proposal's taxation record.
func NewTributacao(src source.Source, propostaID string, opts ...livequery.Option) *livequery.Query[Tributacao] {
	return livequery.New(src, TributacaoSpec(propostaID), DecodeTributacao, opts...)
}

func isNull(v ir.Value) bool {
	_, ok := v.(ir.Null)
	return ok
}
