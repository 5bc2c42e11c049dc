package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/permission", func(r chi.Router) {
		// Decisions
		r.Post("/check", s.checkPermission)
		r.Post("/check/batch", s.checkPermissionBatch)
		r.Post("/request", s.requestPermission) // Blocks until replied

		// Rules
		r.Get("/rules", s.getRules)
		r.Post("/reload", s.reloadRules)

		// Session scope
		r.Get("/session", s.getSessionRules)
		r.Post("/session", s.addSessionRules)
		r.Delete("/session", s.clearSessionRules)

		// Pending requests
		r.Get("/pending", s.listPending)
		r.Post("/{requestID}", s.respondPermission)

		// Audit
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", s.listAudit)
			r.Get("/{recordID}", s.getAudit)
		})
	})

	r.Get("/mcp", s.getMCPStatus)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
