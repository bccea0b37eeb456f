// Package api exposes the status machine over HTTP.
//
// Every status operation has a route; mutating routes reply with the status
// as it stands after the operation.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// StatusService is the status machine as seen by the HTTP layer.
type StatusService interface {
	State(ctx context.Context) (models.StatusState, error)
	Exposed(ctx context.Context) error
	Unexposed(ctx context.Context) error
	SelfDiagnose(ctx context.Context, symptoms models.Symptoms, startDate time.Time) error
	Checkin(ctx context.Context, symptoms models.Symptoms) error
	Tick(ctx context.Context) error
	Received(ctx context.Context, result models.TestResult) error
}

// MailboxReceiver hands out the pending drawer message, clearing it.
type MailboxReceiver interface {
	Receive(ctx context.Context) (*models.DrawerMessage, error)
}

// ContactRecorder stores proximity records reported by the radio layer.
type ContactRecorder interface {
	AddContactEvent(ctx context.Context, ev store.ContactEvent) (string, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr    string
	Metrics http.Handler
	Now     func() time.Time
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.Metrics = h }
}

// WithNow sets the clock used to stamp contact events reported without a
// timestamp.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Server is the HTTP driver of the status machine.
type Server struct {
	status   StatusService
	mailbox  MailboxReceiver
	contacts ContactRecorder
	metrics  http.Handler
	now      func() time.Time
	addr     string
	router   chi.Router
}

func NewServer(status StatusService, mailbox MailboxReceiver, contacts ContactRecorder, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		status:   status,
		mailbox:  mailbox,
		contacts: contacts,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		addr:     cfg.Addr,
	}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.healthHandler)
	r.Route("/status", func(r chi.Router) {
		r.Use(limitBody)
		r.Get("/", s.statusHandler)
		r.Post("/exposed", s.operationHandler("exposed", StatusService.Exposed))
		r.Post("/unexposed", s.operationHandler("unexposed", StatusService.Unexposed))
		r.Post("/tick", s.operationHandler("tick", StatusService.Tick))
		r.Post("/diagnosis", s.diagnosisHandler)
		r.Post("/checkin", s.checkinHandler)
	})
	r.With(limitBody).Post("/test-results", s.testResultHandler)
	r.Get("/mailbox", s.mailboxHandler)
	r.With(limitBody).Post("/contact-events", s.contactEventHandler)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request handled",
			logfields.Method(r.Method),
			logfields.Path(r.URL.Path),
			logfields.Status(ww.Status()),
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}
