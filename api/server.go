/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for reporting front-ends
  5. Instrument: Request latency by route pattern (when a registry is set)

ROUTE GROUPS:
  /api/leases/*          Resolved leases
  /api/<metric>          One route per metric result set
  /api/validation/*      Accuracy scoring and history
  /api/records           Feed ingestion (writable stores only)
  /api/fixtures/*        Built-in scenarios
  /metrics               Prometheus scrape endpoint
  /healthz               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/leasectl/serve.go: Server startup
*/
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the outer surface.
type RouterOptions struct {
	// CORSOrigins defaults to any origin.
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	if h.registry != nil {
		r.Use(h.instrument)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.registry != nil {
		r.Handle("/metrics", h.registry.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Lease routes
		r.Route("/leases", func(r chi.Router) {
			r.Get("/", h.ListLeases)
			r.Get("/{property}/{tenant}", h.GetLease)
		})

		// Metric routes
		r.Get("/rent-roll", h.RentRoll)
		r.Get("/expirations", h.Expirations)
		r.Get("/future-leases", h.FutureLeases)
		r.Get("/walt", h.WALT)
		r.Get("/leasing-activity", h.LeasingActivity)
		r.Get("/net-absorption", h.NetAbsorption)
		r.Get("/noi", h.NOI)
		r.Get("/health-score", h.HealthScore)
		r.Get("/concentration", h.Concentration)
		r.Get("/quality", h.Quality)

		// Validation routes
		r.Route("/validation", func(r chi.Router) {
			r.Post("/", h.Validate)
			r.Get("/runs", h.ListValidationRuns)
		})

		// Record routes
		r.Post("/records", h.AppendRecords)

		// Fixture routes
		r.Route("/fixtures", func(r chi.Router) {
			r.Get("/", h.ListFixtures)
			r.Get("/current", h.GetCurrentFixture)
			r.Post("/replay", h.ReplayFixtures)
			r.Post("/load", h.LoadFixture)
		})
	})

	return r
}

// instrument records request latency under the matched route pattern, so
// /api/leases/P1/T1 and /api/leases/P2/T9 share one series.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.registry.ObserveRequest(route, strconv.Itoa(status), time.Since(started))
	})
}
