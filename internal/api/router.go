package api

import (
	"context"
	"field-route-planner/internal/api/handlers"
	"field-route-planner/internal/platform/metrics"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Deps struct {
	Planner        handlers.RoutePlanner
	Ping           func(ctx context.Context) error
	AllowedOrigins []string
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	health := &handlers.HealthHandler{Ping: deps.Ping}
	plans := &handlers.PlanHandler{Planner: deps.Planner}

	r.Get("/health", health.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/route-plans/preview", plans.Preview)
		r.Post("/route-plans", plans.Plan)
		r.Post("/clusters", plans.Cluster)
		r.Get("/routes", plans.ListRoutes)
	})

	return r
}
