/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through the process logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/production            Production feed
  /api/farms/{farmID}/*      Availability, history, approval queue
  /api/orders/*              Order lifecycle
  /api/buyers/{buyerID}/*    Buyer views
  /api/subscriptions/*       Subscriptions
  /api/admin/*               Sweep trigger
  /api/scenarios/*           Demo data
  /health                    Liveness

SEE ALSO:
  - handlers.go: Handler implementations
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
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: h.Log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/production", h.ReportProduction)

		r.Route("/farms/{farmID}", func(r chi.Router) {
			r.Get("/availability", h.GetAvailability)
			r.Get("/breakdown", h.GetDayBreakdown)
			r.Get("/history", h.GetProductionHistory)
			r.Get("/orders", h.ListFarmOrders)
			r.Get("/orders/pending", h.ListPendingOrders)
			r.Get("/subscriptions", h.ListFarmSubscriptions)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/approve", h.ApproveOrder)
			r.Post("/{id}/reject", h.RejectOrder)
		})

		r.Route("/buyers/{buyerID}", func(r chi.Router) {
			r.Get("/orders", h.ListBuyerOrders)
			r.Get("/subscriptions", h.ListBuyerSubscriptions)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.Subscribe)
			r.Post("/{id}/cancel", h.CancelSubscription)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
