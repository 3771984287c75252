/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Recoverer:  Panic recovery (500 instead of crash)
  2. RequestID:  Unique ID per request, echoed as X-Request-Id
  3. hlog:       Request-scoped zerolog logger + access log line
  4. Metrics:    Prometheus counters and latency per route pattern
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/sleep/*      Status, records, preview, sync, wipe
  /api/sync/*       Run history and scheduler status
  /api/settings     Settings
  /api/scenarios/*  Demo data
  /healthz          Liveness
  /metrics          Prometheus

SECURITY NOTE:
  No authentication middleware. The service is meant to run on a
  personal machine or behind a trusted proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/sleepdebt/serve.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/sleep-debt/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:8000"}
	}

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/sleep", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Get("/records", h.ListRecords)
			r.Get("/preview", h.PreviewExamples)
			r.Post("/sync", h.TriggerSync)
			r.Delete("/data", h.DeleteAllData)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/runs", h.ListSyncRuns)
			r.Get("/schedule", h.GetSchedule)
		})

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// requestIDField copies chi's request id into the request logger and the
// response headers.
func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
			log := zerolog.Ctx(r.Context())
			log.UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}
