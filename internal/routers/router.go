package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"craft/collab/internal/api"
	"craft/collab/internal/metrics"
)

func New(h *api.Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(metrics.Middleware("collab"))

	r.Get("/healthz", h.Health)
	r.Get("/api/v1/collab/healthz", h.Health)
	r.Get("/api/v1/collab/stats", h.Stats)
	r.Get("/api/v1/scripts/{scriptId}/collaborators", h.Collaborators)
	r.Get("/ws", h.CollabWS)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
