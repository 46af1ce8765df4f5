package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wagerline/wagerline-core/internal/auth"
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

		r.With(s.rateLimitLogin).Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with a single-use ticket, not a bearer token.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/auth", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSessionOwn))
				r.Get("/me", s.handleMe)
				r.Post("/logout", s.handleLogout)
				r.Post("/ws-ticket", s.handleWSTicket)
			})

			r.Route("/devices", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermDeviceReadOwn)).Get("/", s.handleListOwnDevices)
				r.With(s.requirePermission(auth.PermDeactivationSubmit)).Post("/{id}/deactivation-requests", s.handleSubmitDeactivation)
			})
			r.With(s.requirePermission(auth.PermDeviceReadOwn)).Get("/deactivation-requests", s.handleListOwnDeactivations)

			r.Route("/admin", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermRequestReview))

					r.Route("/admission-requests", func(r chi.Router) {
						r.Get("/", s.handleListAdmissionRequests)
						r.Get("/{id}", s.handleGetAdmissionRequest)
						r.Post("/{id}/approve", s.handleApproveAdmission)
						r.Post("/{id}/reject", s.handleRejectAdmission)
					})

					r.Route("/deactivation-requests", func(r chi.Router) {
						r.Get("/", s.handleListDeactivationRequests)
						r.Get("/{id}", s.handleGetDeactivationRequest)
						r.Post("/{id}/approve", s.handleApproveDeactivation)
						r.Post("/{id}/reject", s.handleRejectDeactivation)
					})
				})

				r.Route("/accounts", func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermAccountManage))
					r.Get("/", s.handleListAccounts)
					r.Post("/", s.handleCreateAccount)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetAccount)
						r.Patch("/", s.handleUpdateAccount)
						r.With(s.requirePermission(auth.PermDeviceManage)).Get("/devices", s.handleListAccountDevices)
						r.With(s.requirePermission(auth.PermDeviceManage)).Delete("/devices", s.handleClearAccountDevices)
					})
				})

				r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit-logs", s.handleListAuditLogs)
			})
		})
	})

	return r
}
