package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailnet-monitor/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermEventsStream)).Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/entities", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermEntityRead)).Get("/", s.handleListEntities)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermEntityRead))
						r.Get("/", s.handleGetEntity)
						r.Get("/online", s.handleEntityOnline)
						r.Get("/devices", s.handleListEntityDevices)
						r.Get("/devices/{nodeId}/routes", s.handleDeviceRoutes)
						r.Get("/users", s.handleListUsers)
					})

					r.With(s.requirePermission(auth.PermEntityRefresh)).Post("/refresh", s.handleRefreshEntity)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermEntityManage))
						r.Patch("/", s.handleRenameEntity)
						r.Delete("/", s.handleDeleteEntity)
					})

					r.With(s.requirePermission(auth.PermDeviceDelete)).Delete("/devices/{nodeId}", s.handleDeleteDevice)
				})
			})

			r.With(s.requirePermission(auth.PermEntityManage)).Get("/audit", s.handleListAuditLogs)

			r.Route("/pairing", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermEntityManage))
				r.Post("/", s.handlePair)
				r.Post("/validate", s.handleValidateCredentials)
				r.Post("/candidates", s.handleListCandidates)
			})
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
