package livequery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

func TestStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusLoading, StatusLoaded, StatusErrored} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		got, err := ParseStatus(string(text))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("done")
	assert.Error(t, err)
	assert.Equal(t, "Status(9)", Status(9).String())
}

func TestResult_NilSafe(t *testing.T) {
	var r *Result[ir.Row]
	assert.True(t, r.Empty())
	assert.Equal(t, 0, r.Len())
	_, ok := r.One()
	assert.False(t, ok)
}

func TestResult_One(t *testing.T) {
	r := &Result[ir.Row]{
		Arity: queryir.ArityOne,
		Rows:  []ir.Row{{"id": ir.Text("a")}},
	}
	row, ok := r.One()
	require.True(t, ok)
	assert.Equal(t, "a", row.ID())
	assert.False(t, r.Empty())
}

func TestState_Settled(t *testing.T) {
	assert.False(t, State[ir.Row]{Status: StatusIdle}.Settled())
	assert.False(t, State[ir.Row]{Status: StatusLoading}.Settled())
	assert.True(t, State[ir.Row]{Status: StatusLoaded}.Settled())
	assert.True(t, State[ir.Row]{Status: StatusErrored}.Settled())
}

func TestRows_Identity(t *testing.T) {
	in := ir.Row{"id": ir.Text("a")}
	out, err := Rows(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
