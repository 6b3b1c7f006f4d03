// Package api exposes the outbox over HTTP: sync state, manual sync, and
// manual resolution of pending and dead-lettered jobs.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jdziat/durable-outbox/pkg/queue"
	"github.com/jdziat/durable-outbox/pkg/scheduler"
)

// Syncer is the part of the scheduler the API drives.
type Syncer interface {
	State() scheduler.State
	RequestSync()
	SyncNow(ctx context.Context) (scheduler.State, error)
}

// Server routes outbox requests.
type Server struct {
	Router *chi.Mux
	queue  *queue.Queue
	sync   Syncer
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds the router.
func NewServer(q *queue.Queue, sync Syncer, opts ...Option) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		queue:  q,
		sync:   sync,
		logger: q.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(s.logRequests)
	s.Router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/status", s.handleStatus)
	s.Router.Post("/sync", s.handleSync)

	s.Router.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleRemoveJob)
	})

	s.Router.Route("/dead-letters", func(r chi.Router) {
		r.Get("/", s.handleListDeadLetters)
		r.Post("/{id}/requeue", s.handleRequeueDeadLetter)
		r.Delete("/{id}", s.handlePurgeDeadLetter)
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
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
