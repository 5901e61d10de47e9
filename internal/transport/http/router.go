// Package httptransport wires the defense services to their HTTP surface.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/platform/health"
	platformmw "aegis/internal/platform/middleware"
	ratelimitmw "aegis/internal/ratelimit/middleware"
	rlmodels "aegis/internal/ratelimit/models"
	securitymw "aegis/internal/securitymonitor/middleware"
	metadatamw "aegis/pkg/platform/middleware/metadata"
	"aegis/pkg/requesttime"
)

// RouterConfig gathers the middleware dependencies the router needs beyond
// the handler itself.
type RouterConfig struct {
	Handler   *Handler
	Health    *health.Handler
	RateLimit *ratelimitmw.Middleware
	Security  *securitymw.Middleware
	Metadata  *metadatamw.Middleware
	Logger    *slog.Logger
}

// NewRouter wires all endpoints with the full middleware stack. Order
// matters: client metadata must be extracted before the security screen and
// the rate limiters can key on it.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(platformmw.Recovery(cfg.Logger))
	r.Use(platformmw.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(cfg.Metadata.Handler)
	r.Use(platformmw.Logger(cfg.Logger))
	r.Use(platformmw.Timeout(30 * time.Second))
	r.Use(cfg.RateLimit.GlobalThrottle())
	r.Use(cfg.Security.Screen)

	h := cfg.Handler

	// Health probes, relaxed limits.
	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimit.RateLimit(rlmodels.ClassHealth))
		cfg.Health.Register(r)
	})

	// Authentication defense surface, strict limits keyed by IP.
	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimit.RateLimit(rlmodels.ClassAuth))
		r.Post("/auth/check", h.handleAuthCheck)
		r.Post("/auth/attempts", h.handleAuthAttempt)
		r.Delete("/auth/attempts/{identifier}", h.handleAuthClear)
	})

	// Webhook ingestion, burst-tolerant, keyed by IP plus signature prefix.
	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimit.RateLimit(rlmodels.ClassWebhook))
		r.Post("/webhooks/{source}", h.handleWebhook)
	})

	// Operational read/write surface.
	r.Group(func(r chi.Router) {
		r.Use(cfg.RateLimit.RateLimit(rlmodels.ClassAdmin))
		r.Get("/security/metrics", h.handleSecurityMetrics)
		r.Get("/alerts", h.handleAlerts)
		r.Post("/alerts/{id}/resolve", h.handleAlertResolve)
		r.Get("/admin/allowlist", h.handleAllowlistList)
		r.Post("/admin/allowlist", h.handleAllowlistAdd)
		r.Delete("/admin/allowlist/{identifier}", h.handleAllowlistRemove)
		r.Post("/admin/ratelimits/reset", h.handleRateLimitReset)
		r.Post("/admin/accounts/{identifier}/lock", h.handleAccountLock)
		r.Post("/admin/accounts/{identifier}/unlock", h.handleAccountUnlock)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
