package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/studiowatch/internal/api/handlers"
	"github.com/eargollo/studiowatch/internal/scheduler"
	"github.com/eargollo/studiowatch/internal/watcher"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// Deps are the collaborators the routes need. Sched and Catalog may be nil.
type Deps struct {
	DB      *sql.DB
	Store   *watchlog.Store
	Watcher *watcher.Orchestrator
	Sched   *scheduler.Scheduler
	Catalog handlers.Invalidator
	Version string
}

// Server holds the HTTP server.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, deps Deps) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           Router(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router builds the chi router for deps.
func Router(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{Watcher: deps.Watcher, Sched: deps.Sched, Version: deps.Version}
	watcherH := &handlers.WatcherHandler{DB: deps.DB, Watcher: deps.Watcher}
	logH := &handlers.WatchLogHandler{Store: deps.Store, Watcher: deps.Watcher}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/watcher/start", watcherH.Start)
		r.Post("/watcher/stop", watcherH.Stop)
		r.Post("/watcher/scan", watcherH.Scan)

		r.Get("/watch-log/unmatched", logH.Unmatched)
		r.Get("/watch-log/recent", logH.Recent)
		r.Get("/watch-log/pending", logH.Pending)
		r.Post("/watch-log/{id}/link", logH.Link)
		r.Get("/watch-log/{id}/images", logH.Images)
		r.Get("/watch-log/{id}/thumbnail", logH.Thumbnail)

		if deps.Catalog != nil {
			catalogH := &handlers.CatalogHandler{Cache: deps.Catalog}
			r.Post("/catalog/invalidate", catalogH.Invalidate)
		}
	})
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
