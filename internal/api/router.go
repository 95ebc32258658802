package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsestream/pulsestream/internal/api/alerts"
	"github.com/pulsestream/pulsestream/internal/api/auth"
	"github.com/pulsestream/pulsestream/internal/api/events"
	"github.com/pulsestream/pulsestream/internal/api/middleware"
	"github.com/pulsestream/pulsestream/internal/api/rules"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.AccessTokenTTL)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	// API v1 routes (all tenant-scoped, JWT required)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtService))

		r.Route("/events", func(r chi.Router) {
			eventHandler := events.NewHandler(s.storage.Tenants(), s.events, s.ingestor)

			r.Post("/", eventHandler.Ingest)
			r.Post("/batch", eventHandler.IngestBatch)
			r.Get("/", eventHandler.List)
			r.Get("/stats", eventHandler.Stats)
			r.Get("/{id}", eventHandler.GetByID)
			r.Delete("/{id}", eventHandler.Delete)
		})

		r.Route("/alert-rules", func(r chi.Router) {
			ruleHandler := rules.NewHandler(s.storage.Rules())

			r.Post("/", ruleHandler.Create)
			r.Get("/", ruleHandler.List)
			r.Get("/{id}", ruleHandler.GetByID)
			r.Put("/{id}", ruleHandler.Update)
			r.Delete("/{id}", ruleHandler.Delete)
		})

		r.Route("/alerts", func(r chi.Router) {
			alertHandler := alerts.NewHandler(s.storage.Alerts())

			r.Get("/", alertHandler.List)
			r.Get("/{id}", alertHandler.GetByID)
			r.Post("/{id}/resolve", alertHandler.Resolve)
			r.Post("/{id}/suppress", alertHandler.Suppress)
			r.Post("/{id}/reactivate", alertHandler.Reactivate)
		})
	})

	// Health check (public)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})

	return r
}
