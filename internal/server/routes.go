package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the router: health, WebSocket endpoint, test page,
// read-only JSON API and, when enabled, Prometheus metrics.
func SetupRoutes(h *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.HandleFunc("/ws", h.WebSocketHandler)
	r.Get("/test", TestPageHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages/{userId}/{friendId}", h.HistoryHandler)
		r.Get("/friends/{userId}", h.FriendsHandler)
		r.Get("/user/{userId}", h.UserHandler)
		r.Get("/users/search", h.SearchUsersHandler)
		r.Get("/stats", h.StatsHandler)
	})

	if h.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}
