package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"
)

// routes mounts the API on r.
func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.health)
	r.Route("/api/queries", func(r chi.Router) {
		r.Get("/", s.listQueries)
		r.Get("/{name}", s.getQuery)
		r.Post("/{name}/refetch", s.refetchQuery)
		r.Get("/{name}/stream", s.streamQuery)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"queries": s.registry.Len(),
	})
}

func (s *Server) listQueries(w http.ResponseWriter, _ *http.Request) {
	out := []Summary{}
	for _, name := range s.registry.Names() {
		q, def, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		st := q.State()
		out = append(out, Summary{
			Name:        def.Name,
			Description: def.Description,
			Table:       def.Spec.From,
			Status:      st.Status.String(),
			Live:        st.Live,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	q, def, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	writeJSON(w, http.StatusOK, NewView(def, q.State()))
}

// refetchQuery triggers a refetch and answers with the state at that moment;
// clients follow the stream for the outcome.
func (s *Server) refetchQuery(w http.ResponseWriter, r *http.Request) {
	q, def, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}
	q.Refetch()
	writeJSON(w, http.StatusAccepted, NewView(def, q.State()))
}

// streamQuery is the long-lived SSE endpoint for one query. It patches the
// "query" signal with the current view, then again after every state change.
// The stream ends when the client leaves or the query is stopped, e.g. by a
// definition reload.
func (s *Server) streamQuery(w http.ResponseWriter, r *http.Request) {
	q, def, ok := s.registry.Get(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "query not found")
		return
	}

	updates, release := q.Updates()
	defer release()

	sse := datastar.NewSSE(w, r)
	send := func() error {
		return sse.MarshalAndPatchSignals(map[string]any{"query": NewView(def, q.State())})
	}
	if err := send(); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			if err := send(); err != nil {
				s.logger.Debug("stream closed", "query", def.Name, "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
