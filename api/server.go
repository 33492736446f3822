/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs and notices
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging through logrus
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Latency histogram by route pattern
  6. Timeout:    Cancels the request context after RequestTimeout
  7. CORS:       Cross-origin requests for the station frontend

ROUTE GROUPS:
  /healthz                 Store health
  /metrics                 Prometheus scrape endpoint
  /api/board               Shift board
  /api/nozzles/*           Continuity lookups
  /api/assignments/*       Assign and close
  /api/allocations/*       Closing form pre-check
  /api/settlements         Closing entries
  /api/cash-settlements/*  Cash reconciliation
  /api/rewards             Loyalty rewards

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	var log logrus.FieldLogger = logrus.StandardLogger()
	if h.Log != nil {
		log = h.Log
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Instrument)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", headerEmployeeID, headerRole},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/board", h.GetBoard)

		r.Route("/nozzles", func(r chi.Router) {
			r.Get("/{id}/start-reading", h.GetStartReading)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.Assign)
			r.Post("/{id}/close", h.CloseAssignment)
		})

		r.Post("/allocations/preview", h.PreviewAllocation)
		r.Get("/settlements", h.ListSettlements)

		// Cash reconciliation routes
		r.Route("/cash-settlements", func(r chi.Router) {
			r.Get("/", h.GetCashSettlement)
			r.Post("/", h.SubmitCashSettlement)
			r.Get("/summaries", h.ListShiftCards)
		})

		r.Get("/rewards", h.ListRewards)
	})

	return r
}
