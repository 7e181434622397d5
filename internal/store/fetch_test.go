package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

func latestSpec() queryir.Spec {
	return queryir.Spec{
		From:    "fechamento",
		OrderBy: []queryir.Order{{Field: "data_fechamento", Dir: queryir.Desc}},
		Limit:   1,
		Arity:   queryir.ArityOne,
	}
}

func TestFetch_LatestFechamento(t *testing.T) {
	s := createTestStore(t)
	insertFechamento(t, s, "f-mar", "2024-03", "2024-03-31")
	insertFechamento(t, s, "f-apr", "2024-04", "2024-04-30")

	rows, err := s.Fetch(context.Background(), latestSpec())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "f-apr", rows[0].ID())
	assert.Equal(t, ir.Text("2024-04"), rows[0].Get("competencia"))
	assert.Equal(t, ir.Text("aberto"), rows[0].Get("status"), "schema default")
	assert.Equal(t, ir.Null{}, rows[0].Get("responsavel"))
}

func TestFetch_EmptyTableReturnsEmptySlice(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.Fetch(context.Background(), queryir.Spec{From: "fechamento"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestFetch_OrderIsStableOnTies(t *testing.T) {
	s := createTestStore(t)
	insertFechamento(t, s, "b", "2024-04", "2024-04-30")
	insertFechamento(t, s, "a", "2024-04", "2024-04-30")
	insertFechamento(t, s, "c", "2024-03", "2024-03-31")

	spec := queryir.Spec{
		From:    "fechamento",
		OrderBy: []queryir.Order{{Field: "data_fechamento", Dir: queryir.Desc}},
	}
	rows, err := s.Fetch(context.Background(), spec)
	require.NoError(t, err)

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID()
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestFetch_FilterAndColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "tributacao", ir.Row{
		"id": ir.Text("t-1"), "proposta_id": ir.Text("p-1"),
		"regime": ir.Text("simples"), "aliquota": ir.Text("6.00"),
	})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "tributacao", ir.Row{
		"id": ir.Text("t-2"), "proposta_id": ir.Text("p-2"),
		"regime": ir.Text("presumido"), "aliquota": ir.Text("11.33"),
	})
	require.NoError(t, err)

	rows, err := s.Fetch(ctx, queryir.Spec{
		From:    "tributacao",
		Columns: []string{"id", "aliquota"},
		Filter:  queryir.Equals{Field: "proposta_id", Value: ir.Text("p-2")},
		Arity:   queryir.ArityOne,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ir.Row{"id": ir.Text("t-2"), "aliquota": ir.Text("11.33")}, rows[0])
}

func TestFetch_ArityOneReturnsUpToTwoRows(t *testing.T) {
	s := createTestStore(t)
	insertFechamento(t, s, "f-1", "2024-04", "2024-04-30")
	insertFechamento(t, s, "f-2", "2024-04", "2024-04-30")
	insertFechamento(t, s, "f-3", "2024-04", "2024-04-30")

	rows, err := s.Fetch(context.Background(), queryir.Spec{
		From:   "fechamento",
		Filter: queryir.Equals{Field: "competencia", Value: ir.Text("2024-04")},
		Arity:  queryir.ArityOne,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestFetch_ErrorClassification(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Fetch(ctx, queryir.Spec{From: "nao_existe"})
	assert.True(t, source.IsQueryError(err), "unknown table: %v", err)

	_, err = s.Fetch(ctx, queryir.Spec{From: "fechamento", Columns: []string{"nope"}})
	assert.True(t, source.IsQueryError(err), "unknown column: %v", err)

	_, err = s.Fetch(ctx, queryir.Spec{From: "bad name"})
	assert.True(t, source.IsQueryError(err), "invalid spec: %v", err)

	require.NoError(t, s.Close())
	_, err = s.Fetch(ctx, queryir.Spec{From: "fechamento"})
	assert.True(t, source.IsTransportError(err), "closed store: %v", err)
}

func TestFetch_CancelledContextIsTransport(t *testing.T) {
	s := createTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Fetch(ctx, queryir.Spec{From: "fechamento"})
	require.Error(t, err)
	assert.True(t, source.IsTransportError(err))
}
