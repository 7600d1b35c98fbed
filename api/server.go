/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from proxy headers
  3. RequestLogger: One zerolog line per request
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/state            Snapshot read and write
  /api/settlements/*    Reconciliation passes and status
  /api/transactions     Monthly entry history
  /api/schedule         Month agenda
  /api/ledger           Ledger events
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. The engine serves a single user's budget
  and is expected to sit behind whatever fronts the app.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Put("/state", h.PutState)

		r.Route("/settlements", func(r chi.Router) {
			r.Post("/run", h.RunSettlement)
			r.Post("/confirm", h.ConfirmOccurrence)
			r.Get("/status", h.SettlementStatus)
		})

		r.Get("/transactions", h.GetTransactions)
		r.Get("/schedule", h.GetSchedule)
		r.Get("/ledger", h.GetLedger)
	})

	return r
}
