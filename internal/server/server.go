// Package server exposes the local record store and the sync orchestrator
// over HTTP while csync runs in watch mode. It listens on the device only.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	syncer "github.com/chmdznr/caracterizacion-sync/internal/sync"
	"github.com/chmdznr/caracterizacion-sync/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// Records is the part of the record service the HTTP surface reads
type Records interface {
	Stats(ctx context.Context) (*models.Stats, error)
	ErrorList(ctx context.Context) ([]models.Characterization, error)
	List(ctx context.Context, status models.Status) ([]models.Characterization, error)
	FindByReference(ctx context.Context, ref string) (*models.Characterization, error)
	Retry(ctx context.Context, id int64) error
	SyncLog(ctx context.Context, limit int) ([]models.SyncLogEntry, error)
}

// Syncer runs a sync pass on request
type Syncer interface {
	Sync(ctx context.Context) syncer.Result
	State() syncer.State
}

// Connectivity reports the last known backend reachability
type Connectivity interface {
	Online() bool
}

// Server is the local HTTP surface
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server and its routes
func New(addr string, records Records, sync Syncer, conn Connectivity, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))

	h := &handler{records: records, sync: sync, conn: conn, logger: logger}

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h.routes(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server started", slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (h *handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(metrics)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Get("/errors", h.errorList)
		r.Get("/log", h.syncLog)
		r.Post("/sync", h.runSync)
		r.Get("/records", h.listRecords)
		r.Get("/records/{ref}", h.getRecord)
		r.Post("/records/{ref}/retry", h.retry)
	})
	return r
}
