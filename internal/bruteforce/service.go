// Package bruteforce tracks login attempts per identifier and derives
// progressive account lockout.
//
// Every attempt is recorded under two independent views, the account
// identifier and the source IP, and a check returns the more restrictive of
// the two verdicts: a botnet rotating IPs against one account and a single IP
// spraying many accounts both hit a wall.
//
// A successful login does not clear failure history; callers clear explicitly
// after success so failed attempts stay auditable until then.
//
// Failure policy: an erroring attempt store FAILS OPEN (the attempt is
// allowed) with the failure logged at error level.
package bruteforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/internal/bruteforce/metrics"
	"aegis/internal/bruteforce/models"
	"aegis/pkg/audit"
	"aegis/pkg/domain"
	"aegis/pkg/privacy"
	"aegis/pkg/requesttime"
)

// AttemptStore persists per-key attempt history.
type AttemptStore interface {
	Append(ctx context.Context, key string, attempt models.LoginAttempt) error
	List(ctx context.Context, key string) ([]models.LoginAttempt, error)
	Clear(ctx context.Context, key string) error
}

// Guard evaluates and records login attempts. Thread-safe for concurrent use.
type Guard struct {
	store          AttemptStore
	auditPublisher audit.Publisher
	logger         *slog.Logger
	config         Config
	metrics        *metrics.Metrics
}

// Option configures a Guard instance.
type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(g *Guard) {
		g.auditPublisher = publisher
	}
}

func WithConfig(cfg Config) Option {
	return func(g *Guard) {
		g.config = cfg
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New creates a brute-force guard over the given attempt store.
func New(store AttemptStore, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, errors.New("attempt store is required")
	}

	g := &Guard{
		store:  store,
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func accountKey(identifier string) string {
	return "bf:acct:" + strings.ToLower(identifier)
}

func ipKey(ip string) string {
	return "bf:ip:" + ip
}

// CheckLoginAttempt evaluates whether a login attempt for the identifier from
// the given IP should proceed. The account view and the IP view are evaluated
// independently; the combined verdict is the more restrictive of the two.
func (g *Guard) CheckLoginAttempt(ctx context.Context, identifier, ip string) (*models.Verdict, error) {
	now := requesttime.Now(ctx)

	acctState, err := g.stateFor(ctx, accountKey(identifier), now)
	if err != nil {
		return g.failOpen(ctx, err, identifier, ip), nil
	}
	ipState, err := g.stateFor(ctx, ipKey(ip), now)
	if err != nil {
		return g.failOpen(ctx, err, identifier, ip), nil
	}

	verdict := combineVerdict(acctState, ipState, now, g.config)

	if !verdict.Allowed {
		if g.metrics != nil {
			g.metrics.RecordCheck("locked")
		}
		audit.Log(ctx, g.logger, g.auditPublisher, "login_attempt_locked_out",
			"identifier", identifier,
			"ip", privacy.AnonymizeIP(ip),
			"locked_until", verdict.LockedUntil.Format(time.RFC3339),
			"retry_after", verdict.RetryAfter,
		)
		return verdict, nil
	}

	if g.metrics != nil {
		g.metrics.RecordCheck("allowed")
	}
	return verdict, nil
}

// RecordLoginAttempt appends the attempt under the account key and, when the
// IP differs, under the IP key as well. Missing IDs and timestamps are filled in.
func (g *Guard) RecordLoginAttempt(ctx context.Context, attempt models.LoginAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = requesttime.Now(ctx)
	}

	if err := g.store.Append(ctx, accountKey(attempt.Identifier), attempt); err != nil {
		return fmt.Errorf("record attempt for account: %w", err)
	}
	if attempt.IPAddress != "" && ipKey(attempt.IPAddress) != accountKey(attempt.Identifier) {
		if err := g.store.Append(ctx, ipKey(attempt.IPAddress), attempt); err != nil {
			return fmt.Errorf("record attempt for ip: %w", err)
		}
	}

	if !attempt.Success {
		if g.metrics != nil {
			g.metrics.RecordFailure()
		}
		audit.Log(ctx, g.logger, g.auditPublisher, "login_attempt_failed",
			"identifier", attempt.Identifier,
			"ip", privacy.AnonymizeIP(attempt.IPAddress),
		)
	}
	return nil
}

// ClearFailedAttempts deletes the account view's history, typically after a
// successful login. The IP view is left intact: other accounts attacked from
// the same address keep counting.
func (g *Guard) ClearFailedAttempts(ctx context.Context, identifier string) error {
	if err := g.store.Clear(ctx, accountKey(identifier)); err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	audit.Log(ctx, g.logger, g.auditPublisher, "failed_attempts_cleared",
		"identifier", identifier,
	)
	return nil
}

// LockAccount forces the identifier into the locked state by synthesizing the
// threshold number of failed attempts. Manual operator override.
func (g *Guard) LockAccount(ctx context.Context, identifier, reason string) error {
	now := requesttime.Now(ctx)
	for i := 0; i < g.config.MaxAttempts; i++ {
		attempt := models.LoginAttempt{
			ID:         uuid.New(),
			Identifier: identifier,
			Success:    false,
			Timestamp:  now,
			Metadata:   map[string]string{"synthetic": "manual_lock", "reason": reason},
		}
		if err := g.store.Append(ctx, accountKey(identifier), attempt); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
	}
	if g.metrics != nil {
		g.metrics.RecordLockout()
	}
	audit.Log(ctx, g.logger, g.auditPublisher, "account_locked_manually",
		"identifier", identifier,
		"reason", reason,
	)
	return nil
}

// UnlockAccount deletes all history for the identifier, lifting any lockout.
// This also erases legitimate audit history for the account view, which is why
// the unlock itself is audit-logged.
func (g *Guard) UnlockAccount(ctx context.Context, identifier string) error {
	if err := g.store.Clear(ctx, accountKey(identifier)); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	audit.Log(ctx, g.logger, g.auditPublisher, "account_unlocked_manually",
		"identifier", identifier,
	)
	return nil
}

// AttemptHistory returns the account view's attempt history inside the
// retention horizon. Consumed by the anomaly detector.
func (g *Guard) AttemptHistory(ctx context.Context, identifier string) ([]models.LoginAttempt, error) {
	return g.store.List(ctx, accountKey(identifier))
}

func (g *Guard) stateFor(ctx context.Context, key string, now time.Time) (failureState, error) {
	history, err := g.store.List(ctx, key)
	if err != nil {
		return failureState{}, err
	}
	return evaluateFailures(history, now, g.config), nil
}

// failOpen builds the permissive verdict used when the store errors mid-check.
func (g *Guard) failOpen(ctx context.Context, err error, identifier, ip string) *models.Verdict {
	if g.logger != nil {
		g.logger.ErrorContext(ctx, "brute-force check failed, failing open",
			"error", err,
			"identifier", identifier,
			"ip_prefix", privacy.AnonymizeIP(ip),
		)
	}
	if g.metrics != nil {
		g.metrics.RecordCheck("fail_open")
	}
	return &models.Verdict{
		Allowed:   true,
		Remaining: g.config.MaxAttempts,
		Severity:  domain.SeverityInfo,
	}
}

// combineVerdict merges the account and IP views into the most restrictive verdict.
func combineVerdict(acct, ip failureState, now time.Time, cfg Config) *models.Verdict {
	if acct.locked(now) || ip.locked(now) {
		until := acct.lockedUntil
		if ip.lockedUntil.After(until) {
			until = ip.lockedUntil
		}
		return &models.Verdict{
			Allowed:     false,
			Locked:      true,
			LockedUntil: &until,
			Remaining:   0,
			RetryAfter:  int(until.Sub(now).Seconds()),
			Severity:    domain.SeverityHigh,
		}
	}

	remaining := acct.remaining(cfg)
	if r := ip.remaining(cfg); r < remaining {
		remaining = r
	}

	severity := domain.SeverityInfo
	if remaining <= 2 {
		severity = domain.SeverityMedium
	}

	return &models.Verdict{
		Allowed:   true,
		Remaining: remaining,
		Severity:  severity,
	}
}
