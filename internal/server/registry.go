package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/livesync/internal/compiler"
	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/livequery"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// Registry owns one live query per definition.
//
// Each query has its own subscription; two definitions over the same table
// do not share anything.
type Registry struct {
	src    source.Source
	logger *slog.Logger
	opts   []livequery.Option

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	def   queryir.Definition
	hash  string
	query *livequery.Query[ir.Row]
}

// NewRegistry creates an empty registry over src. opts are passed to every
// query it starts.
func NewRegistry(src source.Source, logger *slog.Logger, opts ...livequery.Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		src:     src,
		logger:  logger,
		opts:    append([]livequery.Option{livequery.WithLogger(logger)}, opts...),
		entries: make(map[string]*entry),
	}
}

// Load replaces the registered definitions with defs.
//
// Queries whose spec is unchanged keep running; changed or new ones are
// (re)started with ctx, and removed ones are stopped. Nothing changes if
// any definition is invalid.
func (r *Registry) Load(ctx context.Context, defs []queryir.Definition) error {
	if errs := compiler.ValidateAll(defs); len(errs) > 0 {
		return fmt.Errorf("%d invalid query definitions, first: %w", len(errs), errs[0])
	}

	hashes := make(map[string]string, len(defs))
	for _, def := range defs {
		h, err := ir.SpecHash(def.Spec.Describe())
		if err != nil {
			return fmt.Errorf("hash query %s: %w", def.Name, err)
		}
		hashes[def.Name] = h
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("registry closed")
	}

	var stop []*livequery.Query[ir.Row]
	var start []*livequery.Query[ir.Row]
	next := make(map[string]*entry, len(defs))
	for _, def := range defs {
		if old, ok := r.entries[def.Name]; ok && old.hash == hashes[def.Name] {
			old.def = def
			next[def.Name] = old
			continue
		}
		e := &entry{
			def:   def,
			hash:  hashes[def.Name],
			query: livequery.New(r.src, def.Spec, livequery.Rows, r.opts...),
		}
		next[def.Name] = e
		start = append(start, e.query)
	}
	for name, old := range r.entries {
		if e, ok := next[name]; !ok || e != old {
			stop = append(stop, old.query)
		}
	}
	r.entries = next
	r.mu.Unlock()

	for _, q := range stop {
		q.Stop()
	}
	for _, q := range start {
		q.Start(ctx)
	}

	r.logger.Info("query definitions loaded",
		"total", len(defs), "started", len(start), "stopped", len(stop))
	return nil
}

// Get returns the named query and its definition.
func (r *Registry) Get(name string) (*livequery.Query[ir.Row], queryir.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, queryir.Definition{}, false
	}
	return e.query, e.def, true
}

// Names returns the registered query names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered queries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops every query. Later Loads fail. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.closed = true
	r.mu.Unlock()

	for _, e := range entries {
		e.query.Stop()
	}
}
