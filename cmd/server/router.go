package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scry-swarm/internal/api"
	apiMiddleware "github.com/phrazzld/scry-swarm/internal/api/middleware"
)

// setupRouter mounts the swarm API, health check and metrics endpoint.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	swarm := api.NewSwarmHandler(app.dispatch, app.ingest, app.admin, app.logger)
	r.Route("/api/swarm", swarm.Routes)

	r.Get("/health", api.Health)
	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	return r
}
