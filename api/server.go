/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/groups/*         Group policies, compliance, member operations
  /api/contributions/*  Verification
  /api/loans/*          Loan lifecycle
  /api/admin/*          Reconciliation sweep

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{gid}/compliance", h.GetGroupCompliance)

			// Member routes
			r.Route("/{gid}/members/{mid}", func(r chi.Router) {
				r.Post("/contributions", h.RecordContribution)
				r.Get("/contributions", h.ListContributions)
				r.Get("/standing", h.GetMemberStanding)
				r.Get("/eligibility", h.GetEligibility)
				r.Get("/penalties", h.ListPenalties)
				r.Post("/loans", h.RequestLoan)
				r.Get("/loans", h.ListLoans)
			})
		})

		// Contribution verification
		r.Route("/contributions", func(r chi.Router) {
			r.Post("/{id}/verify", h.VerifyContribution)
		})

		// Loan lifecycle routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/approve", h.ApproveLoan)
			r.Post("/{id}/reject", h.RejectLoan)
			r.Post("/{id}/payments", h.RecordLoanPayment)
			r.Post("/{id}/restructure", h.RestructureLoan)
			r.Post("/{id}/default", h.DefaultLoan)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.TriggerReconcile)
		})

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
