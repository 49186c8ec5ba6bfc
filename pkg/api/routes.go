package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(s.cfg.Server.RateLimit))
			}

			// Session control.
			r.Post("/collect", s.handleCollect)
			r.Post("/collect/cancel", s.handleCollectCancel)
			r.Get("/status", s.handleStatus)

			// Cache management.
			r.Get("/cache/{owner}/{repo}", s.handleCacheCheck)
			r.Delete("/cache/{owner}/{repo}", s.handleCacheClear)
			r.Delete("/cache", s.handleCacheClearAll)

			// Dashboard views.
			r.Get("/dashboard/{owner}/{repo}", s.handleDashboard)
			r.Get("/dashboard/{owner}/{repo}/filters",
				s.handleFilterOptions)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server
// config. The dashboard UI calls from an extension origin, so the
// default reflects any origin.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
