// Package recovery runs pluggable repair actions between retry attempts.
//
// A chain never propagates a strategy's own failure: a panicking strategy
// counts as "did not recover" and is logged. The triggering error is always
// surfaced by the caller regardless of recovery outcome.
package recovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aegis/internal/resilience/retry"
)

// Strategy is one repair action. CanRecover filters on the error; Recover
// performs the repair and reports whether a retry is now worth attempting.
type Strategy interface {
	Name() string
	CanRecover(err error) bool
	Recover(ctx context.Context) bool
}

// Chain tries strategies in registration order, short-circuiting on the
// first that recovers.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		logger:     logger,
	}
}

// Register appends a strategy. Not safe to call concurrently with
// AttemptRecovery; register everything at startup.
func (c *Chain) Register(s Strategy) {
	c.strategies = append(c.strategies, s)
}

// AttemptRecovery tries each applicable strategy in order and reports whether
// any recovered. Implements retry.Recoverer.
func (c *Chain) AttemptRecovery(ctx context.Context, err error) bool {
	for _, s := range c.strategies {
		if !s.CanRecover(err) {
			continue
		}
		if c.runStrategy(ctx, s, err) {
			if c.logger != nil {
				c.logger.InfoContext(ctx, "recovery strategy succeeded",
					"strategy", s.Name(),
					"error", err,
				)
			}
			return true
		}
	}
	return false
}

// runStrategy isolates a single strategy call so a panic inside one strategy
// is contained as a failed recovery.
func (c *Chain) runStrategy(ctx context.Context, s Strategy, cause error) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			recovered = false
			if c.logger != nil {
				c.logger.ErrorContext(ctx, "recovery strategy panicked",
					"strategy", s.Name(),
					"panic", r,
					"cause", cause,
				)
			}
		}
	}()
	return s.Recover(ctx)
}

// Prober checks connectivity to a backing service.
type Prober interface {
	Ping(ctx context.Context) error
}

// Reconnect probes the backing connection so a retry does not run into the
// same dead socket. Applicable to network-classified failures.
type Reconnect struct {
	prober  Prober
	timeout time.Duration
}

func NewReconnect(prober Prober, timeout time.Duration) *Reconnect {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconnect{prober: prober, timeout: timeout}
}

func (r *Reconnect) Name() string { return "reconnect" }

func (r *Reconnect) CanRecover(err error) bool {
	c := retry.Classify(err)
	return c.Category == retry.CategoryNetwork || c.Category == retry.CategoryDatabase
}

func (r *Reconnect) Recover(ctx context.Context) bool {
	if r.prober == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.prober.Ping(ctx) == nil
}

// AcknowledgeDuplicate treats unique-constraint violations as recovered
// without doing anything: the caller is expected to convert the create into
// an update on retry.
type AcknowledgeDuplicate struct{}

func (AcknowledgeDuplicate) Name() string { return "acknowledge_duplicate" }

func (AcknowledgeDuplicate) CanRecover(err error) bool {
	if err == nil {
		return false
	}
	c := retry.Classify(err)
	if c.Category != retry.CategoryDatabase {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "duplicate key", "unique constraint")
}

func (AcknowledgeDuplicate) Recover(context.Context) bool { return true }

// BackoffWait absorbs upstream rate limiting by waiting out a fixed cooldown
// before the retry, independent of the executor's own backoff.
type BackoffWait struct {
	Cooldown time.Duration
}

func (b BackoffWait) Name() string { return "backoff_wait" }

func (b BackoffWait) CanRecover(err error) bool {
	return retry.Classify(err).Category == retry.CategoryRateLimit
}

func (b BackoffWait) Recover(ctx context.Context) bool {
	cooldown := b.Cooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	timer := time.NewTimer(cooldown)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ReleaseResources runs a best-effort cleanup hook for resource-exhaustion
// failures (pool exhausted, out of memory).
type ReleaseResources struct {
	Release func(ctx context.Context) error
}

func (ReleaseResources) Name() string { return "release_resources" }

func (ReleaseResources) CanRecover(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "out of memory", "resource", "pool exhausted", "too many open")
}

func (r ReleaseResources) Recover(ctx context.Context) bool {
	if r.Release == nil {
		return false
	}
	return r.Release(ctx) == nil
}

func containsAny(s string, substrs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
