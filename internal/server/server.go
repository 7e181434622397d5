// Package server exposes live queries over HTTP: JSON snapshots, manual
// refetch, and a datastar SSE stream per query.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/livesync/internal/queryir"
)

// LoadFunc reads the current query definitions.
type LoadFunc func() ([]queryir.Definition, error)

// Config holds configuration for the server.
type Config struct {
	Registry *Registry
	Listen   string
	Logger   *slog.Logger

	// Watch reloads definitions through Load whenever a .cue file under
	// QueriesDir changes.
	Watch      bool
	QueriesDir string
	Load       LoadFunc
}

// Server serves the registry's queries.
type Server struct {
	registry   *Registry
	listen     string
	logger     *slog.Logger
	watch      bool
	queriesDir string
	load       LoadFunc
	handler    http.Handler
}

// New creates a server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:   cfg.Registry,
		listen:     cfg.Listen,
		logger:     logger,
		watch:      cfg.Watch,
		queriesDir: cfg.QueriesDir,
		load:       cfg.Load,
	}

	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	s.routes(r)
	s.handler = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve listens on the configured address and blocks until ctx is
// cancelled. The registry's queries are stopped on return.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer s.registry.Close()

	s.logger.Info("starting server", "addr", "http://"+ln.Addr().String(), "queries", s.registry.Len())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch && s.load != nil && s.queriesDir != "" {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// Reload re-reads the definitions and swaps them into the registry.
func (s *Server) Reload(ctx context.Context) error {
	if s.load == nil {
		return errors.New("no definition loader configured")
	}
	defs, err := s.load()
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	return s.registry.Load(ctx, defs)
}

// watchFiles reloads definitions when .cue files change.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, s.queriesDir); err != nil {
		s.logger.Error("failed to watch queries directory", "dir", s.queriesDir, "error", err)
		// Don't fail - continue without watching
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".cue" {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				if ctx.Err() != nil {
					return
				}
				s.logger.Info("query definitions changed, reloading", "file", event.Name)
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
