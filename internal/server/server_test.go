package server

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
	"github.com/roach88/livesync/internal/testutil"
)

var discard = slog.New(slog.DiscardHandler)

func historico() queryir.Definition {
	return queryir.Definition{
		Name:        "historico",
		Description: "Closing history",
		Spec: queryir.Spec{
			From:    "fechamento",
			OrderBy: []queryir.Order{{Field: "data_fechamento", Dir: queryir.Desc}},
		},
	}
}

func ultimo() queryir.Definition {
	return queryir.Definition{
		Name: "ultimo",
		Spec: queryir.Spec{
			From:    "fechamento",
			OrderBy: []queryir.Order{{Field: "data_fechamento", Dir: queryir.Desc}},
			Limit:   1,
			Arity:   queryir.ArityOne,
		},
	}
}

func fechamento(id, data string) ir.Row {
	return ir.Row{"id": ir.Text(id), "data_fechamento": ir.Text(data)}
}

func setup(t *testing.T, defs ...queryir.Definition) (*Server, *Registry, *testutil.FakeSource) {
	t.Helper()
	src := testutil.NewFakeSource()
	src.SetRows("fechamento", fechamento("f-apr", "2024-04-30"), fechamento("f-mar", "2024-03-31"))

	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.Load(t.Context(), defs))

	for _, def := range defs {
		q, _, ok := reg.Get(def.Name)
		require.True(t, ok)
		waitLoaded(t, q)
	}

	return New(Config{Registry: reg, Logger: discard}), reg, src
}

func waitLoaded(t *testing.T, q *livequery.Query[ir.Row]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), testutil.DefaultWait)
	defer cancel()
	_, err := q.WaitFor(ctx, func(s livequery.State[ir.Row]) bool { return s.Settled() })
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	s, _, _ := setup(t, historico())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","queries":1}`, rec.Body.String())
}

func TestListQueries(t *testing.T) {
	s, _, _ := setup(t, ultimo(), historico())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "historico", got[0].Name)
	assert.Equal(t, "Closing history", got[0].Description)
	assert.Equal(t, "ultimo", got[1].Name)
	assert.Equal(t, "loaded", got[1].Status)
	assert.True(t, got[1].Live)
}

func TestGetQuery(t *testing.T) {
	s, _, _ := setup(t, ultimo())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries/ultimo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var v struct {
		Name   string           `json:"name"`
		Status string           `json:"status"`
		Arity  string           `json:"arity"`
		Rows   []map[string]any `json:"rows"`
		Error  *ErrorView       `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "ultimo", v.Name)
	assert.Equal(t, "loaded", v.Status)
	assert.Equal(t, "one", v.Arity)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "f-apr", v.Rows[0]["id"])
	assert.Nil(t, v.Error)
}

func TestGetQuery_NotFound(t *testing.T) {
	s, _, _ := setup(t, ultimo())

	for _, path := range []string{"/api/queries/nope", "/api/queries/nope/stream"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queries/nope/refetch", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefetch(t *testing.T) {
	s, reg, src := setup(t, historico())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queries/historico/refetch", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	q, _, _ := reg.Get("historico")
	ctx, cancel := context.WithTimeout(t.Context(), testutil.DefaultWait)
	defer cancel()
	_, err := q.WaitFor(ctx, func(s livequery.State[ir.Row]) bool {
		return s.Generation == 2 && s.Settled()
	})
	require.NoError(t, err)
	assert.Equal(t, 2, src.FetchCount())
}

func TestNewView_StaleAfterError(t *testing.T) {
	good := &livequery.Result[ir.Row]{Rows: []ir.Row{fechamento("f-mar", "2024-03-31")}, Hash: "abc"}
	err := source.NewTransportError("fechamento", assert.AnError)

	v := NewView(historico(), livequery.State[ir.Row]{
		Status:   livequery.StatusErrored,
		LastGood: good,
		Err:      err,
		Message:  source.UserMessage(err),
	})

	assert.Equal(t, "errored", v.Status)
	assert.True(t, v.Stale)
	assert.Len(t, v.Rows, 1)
	assert.Equal(t, "abc", v.Hash)
	require.NotNil(t, v.Error)
	assert.Equal(t, "TRANSPORT", v.Error.Code)
	assert.Equal(t, "Could not reach the server. Try again shortly.", v.Error.Message)
	assert.NotContains(t, v.Error.Message, assert.AnError.Error())
}

func TestNewView_Idle(t *testing.T) {
	v := NewView(ultimo(), livequery.State[ir.Row]{})
	assert.Equal(t, "idle", v.Status)
	assert.NotNil(t, v.Rows)
	assert.Empty(t, v.Rows)
	assert.False(t, v.Stale)
	assert.Nil(t, v.Error)
}

func TestStream(t *testing.T) {
	s, _, src := setup(t, historico())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/queries/historico/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := bufio.NewScanner(resp.Body)
	readUntil := func(substr string) string {
		t.Helper()
		for lines.Scan() {
			if line := lines.Text(); strings.Contains(line, substr) {
				return line
			}
		}
		t.Fatalf("stream ended before %q: %v", substr, lines.Err())
		return ""
	}

	first := readUntil(`"name":"historico"`)
	assert.Contains(t, first, `"generation":1`)

	src.SetRows("fechamento", fechamento("f-may", "2024-05-31"))
	src.Emit(ir.ChangeEvent{Table: "fechamento", Kind: ir.EventInsert, RowID: "f-may"})

	line := readUntil(`"f-may"`)
	assert.Contains(t, line, `"status":"loaded"`)
}

func TestServeListener_Shutdown(t *testing.T) {
	s, reg, src := setup(t, historico())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testutil.DefaultWait):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 0, reg.Len(), "queries stopped on shutdown")
	testutil.Eventually(t, func() bool { return src.Subscriptions() == 0 }, "subscriptions released")
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	cuePath := filepath.Join(dir, "queries.cue")
	require.NoError(t, os.WriteFile(cuePath, []byte("// v1\n"), 0o644))

	src := testutil.NewFakeSource()
	reg := NewRegistry(src, discard)
	t.Cleanup(reg.Close)

	defs := []queryir.Definition{historico()}
	reloaded := make(chan struct{}, 1)
	s := New(Config{
		Registry:   reg,
		Logger:     discard,
		Watch:      true,
		QueriesDir: dir,
		Load: func() ([]queryir.Definition, error) {
			defer func() {
				select {
				case reloaded <- struct{}{}:
				default:
				}
			}()
			return defs, nil
		},
	})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = s.watchFiles(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(cuePath, []byte("// v2\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(testutil.DefaultWait):
		t.Fatal("definitions were not reloaded")
	}
	testutil.Eventually(t, func() bool { return reg.Len() == 1 }, "registry reloaded")
}
