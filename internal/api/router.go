package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/refresh", s.handleRefresh)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetGroup)
				r.Post("/command", s.handleCommand)
			})
		})

		r.Route("/targets/{id}", func(r chi.Router) {
			r.Get("/online", s.handleTargetOnline)
			r.Get("/history", s.handleTargetHistory)
		})
	})

	return r
}

// handleHealth returns the server health status and broker
// connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.bridge.Connected(),
	})
}

// handleRefresh forces an inventory re-fetch from the vendor API
// ahead of the periodic schedule.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.bridge.RefreshSnapshot(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "refreshed",
		"groups": len(s.bridge.Groups()),
	})
}
