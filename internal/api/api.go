// Package api serves InsureGuide conversations over HTTP.
//
// A client opens a session, then posts each user message to it and receives
// the assistant's reply. Sessions can be inspected and deleted, and the
// process exposes health and Prometheus metrics endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/flow"
	"github.com/BTreeMap/InsureGuide/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBodySize bounds a message request body.
const maxRequestBodySize = 64 << 10

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Conversations is the engine the server drives.
type Conversations interface {
	Start(ctx context.Context) (flow.Turn, error)
	Resume(ctx context.Context, sessionID, reply string) (flow.Turn, error)
	Session(ctx context.Context, sessionID string) (*flow.Session, error)
	Delete(ctx context.Context, sessionID string) error
}

// Server is the HTTP front end of the conversation engine.
type Server struct {
	conv     Conversations
	dedup    store.DedupRepo
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithDedup drops replayed messages carrying an already seen message_id.
func WithDedup(repo store.DedupRepo) Option {
	return func(s *Server) { s.dedup = repo }
}

// WithMetrics serves the gatherer's metrics at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a Server around conv.
func NewServer(conv Conversations, opts ...Option) *Server {
	s := &Server{conv: conv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSessionHandler)
		r.Get("/{id}", s.getSessionHandler)
		r.Delete("/{id}", s.deleteSessionHandler)
		r.Post("/{id}/messages", s.messageHandler)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
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

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}
