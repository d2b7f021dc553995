// Package httpapi exposes health, watch, listing and job management over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/health"
	"listing_watcher/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

type WatchManager interface {
	AddWatch(ctx context.Context, url string) (*domain.Watch, error)
	GetWatch(ctx context.Context, id int64) (*domain.Watch, error)
	ListWatches(ctx context.Context) ([]domain.Watch, error)
	RemoveWatch(ctx context.Context, id int64) error
	SetWebhook(ctx context.Context, id int64, url string) error
	ClearWebhook(ctx context.Context, id int64) error
	Listings(ctx context.Context, watchID int64, includeInactive bool) ([]domain.Listing, error)
}

type JobQueue interface {
	Submit(jobType domain.JobType, watchID int64) (*domain.Job, error)
	Get(id string) (*domain.Job, error)
	List() []domain.Job
	Cancel(id string) error
}

type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

type WebhookTester interface {
	DeliverWithOutcome(ctx context.Context, endpoint, message string, opts webhook.Options) webhook.Outcome
}

type Server struct {
	watches  WatchManager
	jobs     JobQueue
	health   HealthReporter
	hooks    WebhookTester
	hookOpts webhook.Options
	version  string
	logger   *slog.Logger
}

func NewServer(
	watches WatchManager,
	jobs JobQueue,
	healthReporter HealthReporter,
	hooks WebhookTester,
	hookOpts webhook.Options,
	version string,
	logger *slog.Logger,
) *Server {
	return &Server{
		watches:  watches,
		jobs:     jobs,
		health:   healthReporter,
		hooks:    hooks,
		hookOpts: hookOpts,
		version:  version,
		logger:   logger.With("component", "httpapi"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/ping", s.handlePing)
	r.Get("/version", s.handleVersion)

	r.Route("/watches", func(r chi.Router) {
		r.Post("/", s.handleAddWatch)
		r.Get("/", s.handleListWatches)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetWatch)
			r.Delete("/", s.handleRemoveWatch)
			r.Put("/webhook", s.handleSetWebhook)
			r.Delete("/webhook", s.handleClearWebhook)
			r.Get("/listings", s.handleListings)
			r.Post("/rescrape", s.handleRescrape)
		})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleCancelJob)
	})

	r.Post("/webhooks/test", s.handleTestWebhook)
	r.Get("/webhooks/types", s.handleWebhookTypes)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http api stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
