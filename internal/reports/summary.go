package reports

import (
	"github.com/shopspring/decimal"
)

// Summary aggregates closings for the dashboard stat cards.
type Summary struct {
	Total             int             `json:"total"`
	PorStatus         map[string]int  `json:"por_status"`
	ValorTotal        decimal.Decimal `json:"valor_total"`
	UltimaCompetencia string          `json:"ultima_competencia,omitempty"`
	Pendentes         int             `json:"pendentes"`
}

// Summarize computes a Summary. Every status other than fechado counts as
// pending.
func Summarize(items []Fechamento) Summary {
	s := Summary{
		PorStatus:  make(map[string]int),
		ValorTotal: decimal.Zero,
	}
	for _, f := range items {
		s.Total++
		s.PorStatus[f.Status]++
		s.ValorTotal = s.ValorTotal.Add(f.ValorTotal)
		if !f.Closed() {
			s.Pendentes++
		}
		// competencia is YYYY-MM, so lexical order is chronological.
		if f.Competencia > s.UltimaCompetencia {
			s.UltimaCompetencia = f.Competencia
		}
	}
	return s
}
