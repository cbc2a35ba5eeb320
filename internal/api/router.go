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
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/endpoint", s.handleEndpoint)

			r.Route("/profiles", func(r chi.Router) {
				r.Get("/", s.handleListProfiles)
				r.Get("/current", s.handleCurrentProfile)
				r.Put("/current", s.handleSelectProfile)
			})

			r.Route("/engine", func(r chi.Router) {
				r.Post("/start", s.handleEngineStart)
				r.Post("/restart", s.handleEngineRestart)
				r.Post("/stop", s.handleEngineStop)
			})

			r.Get("/events", s.handleListEvents)

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
