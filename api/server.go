/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through the handler's slog logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front desk app

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus scrape endpoint (when enabled)
  /api/subscriptions/*  Subscription lifecycle
  /api/customers/*      Hour balances
  /api/cashflow         Cash-flow ledger
  /api/reports/*        Cashbox reconciliation
  /api/verticals        Vertical configuration
  /api/admin/*          Manual runs of the scheduled jobs
  /api/scenarios/*      Demo data loaders (dev only)

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

type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Scenarios mounts the demo loaders under /api/scenarios.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.ListSubscriptions)
			r.Post("/", h.CreateSubscription)
			r.Get("/{id}", h.GetSubscription)
			r.Get("/{id}/payments", h.ListPayments)
			r.Get("/{id}/freezes", h.ListFreezes)
			r.Post("/{id}/{action}", h.SubscriptionAction)
		})

		r.Route("/customers/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/history", h.GetHistory)
			r.Post("/checkins", h.CheckIn)
			r.Post("/consume", h.Consume)
			r.Post("/credits", h.Credit)
			r.Post("/packages", h.OpenPackage)
		})

		r.Post("/cashflow", h.RecordCashFlow)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/cashbox", h.CashboxReport)
			r.Get("/cashbox.xlsx", h.CashboxXLSX)
		})

		r.Get("/verticals", h.ListVerticals)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/expire-packages", h.ExpirePackages)
			r.Post("/sweep-freezes", h.SweepFreezes)
		})

		if opts.Scenarios {
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		}
	})

	return r
}
