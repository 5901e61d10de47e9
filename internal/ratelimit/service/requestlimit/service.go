// Package requestlimit provides per-identifier request throttling.
//
// This is the primary admission control service used by middleware to enforce
// request quotas on API endpoints. Identifiers are derived per endpoint class
// from a configurable key strategy (IP, IP+user-agent, IP+signature prefix),
// and each class carries its own window, quota, and optional block penalty.
//
// Usage:
//
//	svc, _ := requestlimit.New(windowStore, allowlistStore)
//	result, _ := svc.Check(ctx, requestlimit.CheckRequest{IP: ip, Class: models.ClassAuth})
//	if !result.Allowed {
//	    // Return 429 Too Many Requests with result.RetryAfter
//	}
//
// The service checks allowlist entries before applying rate limits, allowing
// admins to exempt specific identifiers from limiting.
//
// Failure policy: an erroring window store FAILS OPEN. The request is admitted,
// the failure is logged at error level, and a metric is incremented. A defense
// layer that denies all traffic when its own store is down is a worse failure
// mode than one that briefly under-enforces.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"

	"aegis/internal/ratelimit/config"
	"aegis/internal/ratelimit/metrics"
	"aegis/internal/ratelimit/models"
	"aegis/pkg/audit"
	"aegis/pkg/privacy"
	"aegis/pkg/requesttime"
)

// WindowStore checks rate limits using per-key window counters.
type WindowStore interface {
	Check(ctx context.Context, key string, limit models.Limit) (*models.Result, error)
	Reset(ctx context.Context, key string) error
}

// AllowlistStore checks if an identifier should bypass rate limiting.
type AllowlistStore interface {
	IsAllowlisted(ctx context.Context, identifier string) (bool, error)
}

// Service enforces per-identifier rate limits over a window counter store.
// Thread-safe for concurrent use by HTTP middleware.
type Service struct {
	windows        WindowStore
	allowlist      AllowlistStore
	throttle       *rate.Limiter
	auditPublisher audit.Publisher
	logger         *slog.Logger
	config         *config.Config
	metrics        *metrics.Metrics
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger for audit and debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditPublisher sets the audit event publisher for security logging.
func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithConfig overrides the default rate limit configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a rate limiting service with the given stores and options.
// Returns an error if required stores are nil.
func New(windows WindowStore, allowlist AllowlistStore, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}
	if allowlist == nil {
		return nil, errors.New("allowlist store is required")
	}

	svc := &Service{
		windows:   windows,
		allowlist: allowlist,
		config:    config.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.config.GlobalRate > 0 {
		svc.throttle = rate.NewLimiter(rate.Limit(svc.config.GlobalRate), svc.config.GlobalBurst)
	}

	return svc, nil
}

// CheckRequest carries the request facts a limit check needs.
type CheckRequest struct {
	IP        string
	UserAgent string
	Signature string // webhook signature header, used by StrategyIPSignature
	Class     models.EndpointClass
}

// Check enforces the endpoint class policy for the request's derived identifier.
// Returns Allowed=false if the identifier has exceeded its quota for the class.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*models.Result, error) {
	classCfg, ok := s.config.GetClass(req.Class)
	if !ok {
		// Default-deny: no limit configured for this class.
		audit.Log(ctx, s.logger, s.auditPublisher, "rate_limit_config_missing",
			"identifier", privacy.AnonymizeIP(req.IP),
			"endpoint_class", string(req.Class),
		)
		s.recordCheck(req.Class, "config_missing")
		return &models.Result{
			Allowed:    false,
			Limit:      0,
			Remaining:  0,
			ResetAt:    requesttime.Now(ctx),
			RetryAfter: 60,
		}, nil
	}

	identifier := models.DeriveIdentifier(classCfg.Strategy, req.IP, req.UserAgent, req.Signature)
	key := models.NewRateLimitKey(identifier, req.Class)

	// Check allowlist (result used later, not for early return).
	// SECURITY: the window check always runs regardless of allowlist status so
	// response timing cannot be used to enumerate allowlisted identifiers.
	allowlisted, allowlistErr := s.allowlist.IsAllowlisted(ctx, identifier)
	if allowlistErr != nil {
		// Treated as not-allowlisted; enforcement still applies.
		allowlisted = false
	}

	result, err := s.windows.Check(ctx, key.String(), classCfg.Limit)
	if err != nil {
		// Fail open: admit, log, count. See package doc for rationale.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "window store check failed, failing open",
				"error", err,
				"endpoint_class", string(req.Class),
				"ip_prefix", privacy.AnonymizeIP(req.IP),
			)
		}
		if s.metrics != nil {
			s.metrics.RecordFailOpen()
		}
		return &models.Result{
			Allowed:   true,
			Limit:     classCfg.Limit.MaxRequests,
			Remaining: classCfg.Limit.MaxRequests,
			ResetAt:   requesttime.Now(ctx).Add(classCfg.Limit.Window),
		}, nil
	}

	if allowlisted {
		if s.metrics != nil {
			s.metrics.RecordAllowlistBypass(string(req.Class))
		}
		audit.Log(ctx, s.logger, s.auditPublisher, "allowlist_bypass",
			"identifier", privacy.AnonymizeIP(req.IP),
			"endpoint_class", string(req.Class),
		)
		return &models.Result{
			Allowed:   true,
			Bypassed:  true,
			Limit:     classCfg.Limit.MaxRequests,
			Remaining: classCfg.Limit.MaxRequests,
			ResetAt:   requesttime.Now(ctx).Add(classCfg.Limit.Window),
		}, nil
	}

	if !result.Allowed {
		reason := "rate_limit_exceeded"
		if result.Blocked {
			reason = "temporarily_blocked"
		}
		audit.Log(ctx, s.logger, s.auditPublisher, reason,
			"identifier", privacy.AnonymizeIP(req.IP),
			"endpoint_class", string(req.Class),
			"limit", classCfg.Limit.MaxRequests,
			"window_seconds", int(classCfg.Limit.Window.Seconds()),
			"retry_after", result.RetryAfter,
		)
		s.recordCheck(req.Class, "denied")
		return result, nil
	}

	s.recordCheck(req.Class, "allowed")
	return result, nil
}

// CheckGlobalThrottle reports whether the process-wide admission gate admits
// one more request. Always true when no global rate is configured.
func (s *Service) CheckGlobalThrottle(context.Context) bool {
	if s.throttle == nil {
		return true
	}
	if s.throttle.Allow() {
		return true
	}
	if s.metrics != nil {
		s.metrics.RecordThrottleRejected()
	}
	return false
}

// Reset clears the window state for an identifier within an endpoint class.
// Operator surface, used when lifting a block manually.
func (s *Service) Reset(ctx context.Context, identifier string, class models.EndpointClass) error {
	key := models.NewRateLimitKey(identifier, class)
	if err := s.windows.Reset(ctx, key.String()); err != nil {
		return err
	}
	audit.Log(ctx, s.logger, s.auditPublisher, "rate_limit_reset",
		"identifier", identifier,
		"endpoint_class", string(class),
	)
	return nil
}

func (s *Service) recordCheck(class models.EndpointClass, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCheck(string(class), outcome)
	}
}
