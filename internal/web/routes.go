package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// requestTimeout bounds every non-streaming API call.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	sessionsHandler := handlers.NewSessionsHandler(s.svc, s.logger)
	identitiesHandler := handlers.NewIdentitiesHandler(s.svc, s.config.MaxUploadMB, s.logger)
	identifyHandler := handlers.NewIdentifyHandler(s.svc, s.config.MaxUploadMB, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.subscriber, s.logger)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.APIToken))
		r.Use(middleware.WithActor)

		// Change notifications (long-lived, no timeout)
		r.Get("/events", eventsHandler.Stream)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Identities
			r.Get("/identities/{id}", identitiesHandler.Get)
			r.Post("/identities/{id}/register", identitiesHandler.Register)
			r.Post("/identities/{id}/descriptors", identitiesHandler.Descriptors)
			r.Get("/identities/{id}/attendance", identitiesHandler.Attendance)

			// Sessions
			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Post("/sessions/{id}/end", sessionsHandler.End)
			r.Post("/sessions/{id}/attendance", sessionsHandler.Mark)
			r.Get("/sessions/{id}/attendance", sessionsHandler.Attendance)

			// Groups
			r.Get("/groups/{group}/session", sessionsHandler.Active)
			r.Get("/groups/{group}/sessions", sessionsHandler.ListByGroup)
			r.Post("/groups/{group}/identify", identifyHandler.Identify)
			r.Post("/groups/{group}/identify/frame", identifyHandler.IdentifyFrame)
		})
	})
}
