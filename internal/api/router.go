package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/diagnostics", s.handleDiagnostics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/lock", s.handleLock)
				r.Post("/unlock", s.handleUnlock)
				r.Get("/sensors", s.handleSensors)
				r.Get("/switches", s.handleListSwitches)
				r.Put("/switches/{key}", s.handleSetSwitch)
				r.Get("/events", s.handleDeviceEvents)

				r.Route("/codes", func(r chi.Router) {
					r.Get("/", s.handleListCodes)
					r.Post("/", s.handleCreateCode)
					r.Delete("/", s.handleDeleteAllCodes)

					r.Route("/{slot}", func(r chi.Router) {
						r.Patch("/", s.handleEditCode)
						r.Delete("/", s.handleDeleteCode)
						r.Put("/enabled", s.handleSetCodeEnabled)
					})
				})
			})
		})

		// WebSocket endpoint for real-time snapshot and event push
		r.Get("/ws", s.handleWebSocket)
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
