package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/testutil"
)

func TestRegistry_Load(t *testing.T) {
	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)

	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{ultimo(), historico()}))
	assert.Equal(t, []string{"historico", "ultimo"}, reg.Names())
	testutil.Eventually(t, func() bool { return src.Subscriptions() == 2 }, "one subscription per query")

	_, def, ok := reg.Get("historico")
	require.True(t, ok)
	assert.Equal(t, "Closing history", def.Description)

	_, _, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ReloadKeepsUnchanged(t *testing.T) {
	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{ultimo(), historico()}))

	keptBefore, _, _ := reg.Get("historico")
	changedBefore, _, _ := reg.Get("ultimo")

	described := historico()
	described.Description = "New wording"
	changed := ultimo()
	changed.Spec.OrderBy = []queryir.Order{{Field: "competencia", Dir: queryir.Desc}}

	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{described, changed}))

	keptAfter, def, _ := reg.Get("historico")
	assert.Same(t, keptBefore, keptAfter, "unchanged spec keeps its query")
	assert.Equal(t, "New wording", def.Description)

	changedAfter, _, _ := reg.Get("ultimo")
	assert.NotSame(t, changedBefore, changedAfter, "changed spec restarts")
	_, err := changedBefore.WaitFor(t.Context(), func(livequery.State[ir.Row]) bool { return false })
	assert.ErrorIs(t, err, livequery.ErrStopped)
}

func TestRegistry_ReloadRemoves(t *testing.T) {
	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{ultimo(), historico()}))

	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{historico()}))
	assert.Equal(t, []string{"historico"}, reg.Names())
	testutil.Eventually(t, func() bool { return src.Subscriptions() == 1 }, "removed query released its subscription")
}

func TestRegistry_InvalidDefinitionsRejected(t *testing.T) {
	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{historico()}))

	bad := queryir.Definition{Name: "bad", Spec: queryir.Spec{From: "fechamento", Limit: -1}}
	err := reg.Load(t.Context(), []queryir.Definition{bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E100")
	assert.Equal(t, []string{"historico"}, reg.Names(), "registry unchanged")
}

func TestRegistry_Close(t *testing.T) {
	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	require.NoError(t, reg.Load(t.Context(), []queryir.Definition{historico()}))

	reg.Close()
	reg.Close()
	assert.Zero(t, reg.Len())
	testutil.Eventually(t, func() bool { return src.Subscriptions() == 0 }, "subscriptions released")
	assert.Error(t, reg.Load(t.Context(), []queryir.Definition{historico()}))
}
