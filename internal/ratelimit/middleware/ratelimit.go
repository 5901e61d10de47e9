package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"aegis/internal/ratelimit/models"
	"aegis/internal/ratelimit/service/requestlimit"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/privacy"
	"aegis/pkg/requestcontext"
)

// SignatureHeader is the webhook signature header consumed by StrategyIPSignature.
const SignatureHeader = "X-Webhook-Signature"

type RateLimiter interface {
	Check(ctx context.Context, req requestlimit.CheckRequest) (*models.Result, error)
	CheckGlobalThrottle(ctx context.Context) bool
}

type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func New(limiter RateLimiter, logger *slog.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit returns middleware enforcing the given endpoint class policy.
// Rate limit headers are attached regardless of outcome; denials get a 429
// with a Retry-After header. A limiter error fails open.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			result, err := m.limiter.Check(ctx, requestlimit.CheckRequest{
				IP:        requestcontext.ClientIP(ctx),
				UserAgent: requestcontext.UserAgent(ctx),
				Signature: r.Header.Get(SignatureHeader),
				Class:     class,
			})
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"error", err,
					"ip_prefix", privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
				)
				next.ServeHTTP(w, r)
				return
			}

			// Add headers regardless of outcome
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GlobalThrottle returns middleware applying the process-wide admission gate.
// A throttled request gets 503 Service Unavailable.
func (m *Middleware) GlobalThrottle() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.limiter.CheckGlobalThrottle(r.Context()) {
				writeServiceOverloaded(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// addRateLimitHeaders adds X-RateLimit-* headers to the response.
func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))

	if result.Blocked && result.BlockedUntil != nil {
		httputil.WriteJSON(w, http.StatusTooManyRequests, &models.BlockedResponse{
			Error:        "temporarily_blocked",
			Message:      "Too many requests. This client is temporarily blocked.",
			RetryAfter:   result.RetryAfter,
			BlockedUntil: *result.BlockedUntil,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this client. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}

func writeServiceOverloaded(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "60")
	httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.ServiceOverloadedResponse{
		Error:      "service_unavailable",
		Message:    "Service is temporarily overloaded. Please try again later.",
		RetryAfter: 60,
	})
}
