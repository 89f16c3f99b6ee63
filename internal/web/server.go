package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// drainTimeout bounds graceful shutdown once Run's context is cancelled.
const drainTimeout = 30 * time.Second

// Server is the attendance HTTP API.
type Server struct {
	config     config.WebConfig
	svc        *service.Service
	subscriber events.Subscriber
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSubscriber feeds the /api/v1/events stream. Without one the stream
// answers 503.
func WithSubscriber(sub events.Subscriber) Option {
	return func(s *Server) { s.subscriber = sub }
}

// WithGatherer backs /metrics (default prometheus.DefaultGatherer).
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg config.WebConfig, svc *service.Service, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		svc:      svc,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.Discard(),
		router:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
		middleware.RequestLogger(s.logger),
		chiMiddleware.Recoverer,
		middleware.CORS(cfg.AllowedOrigins),
	)
	s.setupRoutes()

	// No WriteTimeout: event streams stay open, other routes carry
	// chi's Timeout middleware.
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("draining connections", "timeout", drainTimeout)
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the router, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}
