package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux. The unauthenticated surface is
// GET-only; every envelope action is a POST to its own path and runs the
// full validation ladder inside handleAction.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware(g.config.origins()))
	r.Use(g.recoverer)
	r.Use(g.requestLogger)

	r.Get("/service.health", g.handleHealth())
	r.Get("/service.capabilities", g.handleCapabilities())
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	r.Get("/ws/events", g.handleEvents())

	r.Post("/{action}", g.handleAction())

	return r
}
