package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/obras-search/pkg/middleware"
)

// RouterOptions configures the middleware chain. Zero values disable the
// matching middleware.
type RouterOptions struct {
	Checker        *health.Checker
	Metrics        *metrics.Metrics
	Limiter        *pkgmw.RateLimiter
	AdminKeys      *apikey.Validator
	AllowOrigins   []string
	RequestTimeout time.Duration
}

// NewRouter builds the search HTTP API.
//
// Route table:
//
//	GET    /api/v1/search                     → ranked results
//	GET    /api/v1/search/preview             → cached prefix/fuzzy answer or search
//	POST   /api/v1/highlight                  → <mark> the query terms in a text
//	POST   /api/v1/works/{autor}/{obra}/load  → index one work
//	POST   /api/v1/index/rebuild              → refetch the corpus (admin)
//	GET    /api/v1/index/status               → component status
//	GET    /api/v1/cache/stats                → result cache counters
//	POST   /api/v1/cache/invalidate           → drop cached results (admin)
//	GET    /api/v1/analytics                  → aggregated search analytics
//	GET    /api/v1/analytics/history          → persisted stats snapshots
//	GET    /health/live, /health/ready        → probes
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → CORS → RateLimit → Timeout → handler
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(pkgmw.RequestID)
	if opts.Metrics != nil {
		r.Use(pkgmw.Metrics(opts.Metrics))
	}
	if len(opts.AllowOrigins) > 0 {
		r.Use(pkgmw.CORS(opts.AllowOrigins))
	}
	r.Use(pkgmw.RateLimit(opts.Limiter))
	if opts.RequestTimeout > 0 {
		r.Use(pkgmw.Timeout(opts.RequestTimeout))
	}

	if opts.Checker != nil {
		r.Get("/health/live", opts.Checker.LiveHandler())
		r.Get("/health/ready", opts.Checker.ReadyHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Get("/search/preview", h.Preview)
		r.Post("/highlight", h.Highlight)
		r.Post("/works/{autor}/{obra}/load", h.LoadWork)

		r.Get("/index/status", h.Status)
		r.Get("/cache/stats", h.CacheStats)
		r.Get("/analytics", h.AnalyticsStats)
		r.Get("/analytics/history", h.AnalyticsHistory)

		r.Group(func(r chi.Router) {
			if opts.AdminKeys != nil {
				r.Use(pkgmw.Auth(opts.AdminKeys))
			}
			r.Post("/index/rebuild", h.Rebuild)
			r.Post("/cache/invalidate", h.CacheInvalidate)
		})
	})
	return r
}
