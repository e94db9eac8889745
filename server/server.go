// Package server exposes the assistant over HTTP: a JSON API for records
// and sessions, Server-Sent Events for streamed turns and a WebSocket chat
// endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dailyux/eldercare-go/adherence"
	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/notify"
	"github.com/dailyux/eldercare-go/records"
)

const (
	// DefaultAddr is the HTTP listen address.
	DefaultAddr     = ":8501"
	shutdownTimeout = 5 * time.Second
	maxBodyBytes    = 1 << 20
)

// Options configures a Server.
type Options struct {
	Assistant *assistant.Service
	Records   records.Repository

	// Adherence and Notifications back the reporting endpoints; either
	// may be nil.
	Adherence     *adherence.Tracker
	Notifications *notify.Recorder

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	CORSOrigins []string
	// RateLimit is the per-client request budget per second; 0 disables
	// limiting.
	RateLimit int
	Version   string
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	opts     Options
	router   chi.Router
	upgrader websocket.Upgrader
	started  time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// New builds the router. Records defaults to the mock repository.
func New(opts Options) *Server {
	if opts.Records == nil {
		opts.Records = records.NewMockRepository(nil)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:    opts,
		started: time.Now(),
		logger:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if s.opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.opts.RateLimit, time.Second))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/profile", s.handleProfile)
		r.Get("/schedule", s.handleSchedule)
		r.Get("/contacts", s.handleContacts)
		r.Get("/agents", s.handleAgents)
		r.Get("/quick-actions", s.handleQuickActions)
		r.Get("/adherence", s.handleAdherence)
		r.Get("/notifications", s.handleNotifications)
		r.Get("/tasks/{taskID}", s.handleTask)
		r.Delete("/tasks/{taskID}", s.handleCancelTask)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteSession)
			r.Post("/messages", s.handleMessage)
			r.Post("/stream", s.handleStream)
			r.Get("/history", s.handleHistory)
			r.Get("/tasks", s.handleTasks)
			r.Post("/quick-actions/{action}", s.handleQuickAction)
			r.Post("/export", s.handleExport)
			r.Get("/ws", s.handleWebSocket)
		})
	})
	return r
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "dailycare.http")
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.logger.Info("http server stopped", "addr", addr)
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
