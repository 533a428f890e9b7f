package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/courier/internal/breaker"
	"github.com/mattjoyce/courier/internal/dispatch"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/mail"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/store"
)

// Dispatcher defines the interface for dispatch operations.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *mail.Message) *dispatch.Result
	StatusByID(ctx context.Context, id string) (*dispatch.Result, error)
	List(ctx context.Context, status store.Status, page, size int) ([]*dispatch.Result, error)
}

// Enqueuer defines the interface for asynchronous submission.
type Enqueuer interface {
	Enqueue(msg *mail.Message) error
	Len() int
}

// StatsProvider defines the interface for queue statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

// RateLimitInspector exposes a sender's live window for observability.
type RateLimitInspector interface {
	CurrentCount(sender string) int
	Limits() (int, time.Duration)
}

// BreakerInspector exposes the circuit state of every known provider.
type BreakerInspector interface {
	Snapshot() map[string]breaker.Status
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is the bearer token protecting /api/v1. Empty disables auth.
	APIKey string
}

// Server represents the HTTP API server.
type Server struct {
	config    Config
	engine    Dispatcher
	queue     Enqueuer
	stats     StatsProvider
	limiter   RateLimitInspector
	breakers  BreakerInspector
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, engine Dispatcher, q Enqueuer, stats StatsProvider, limiter RateLimitInspector, breakers BreakerInspector, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		engine:    engine,
		queue:     q,
		stats:     stats,
		limiter:   limiter,
		breakers:  breakers,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // synchronous sends ride out full retry chains
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(s.authMiddleware)
		}

		r.Post("/messages/send", s.handleSend)
		r.Post("/messages/queue", s.handleQueue)
		r.Get("/messages/{messageID}/status", s.handleStatus)
		r.Get("/messages", s.handleList)
		r.Get("/queue/stats", s.handleQueueStats)
		r.Get("/rate-limit/{sender}", s.handleRateLimit)
		r.Get("/circuit-breakers", s.handleCircuitBreakers)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
