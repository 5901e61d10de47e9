// Package retry executes failure-prone operations with classified errors and
// exponential backoff.
//
// Failure policy: the executor FAILS CLOSED. A non-retryable classification
// or attempt exhaustion surfaces the original error to the caller; nothing is
// swallowed.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainerrors "aegis/pkg/domain-errors"
)

// Config tunes one executor's backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DatabaseConfig is tuned for short store retries.
func DatabaseConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// ExternalAPIConfig is tuned for slower third-party calls, with a gentler
// multiplier and more attempts.
func ExternalAPIConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  1.5,
	}
}

// Recoverer is attempted between a retryable failure and the next attempt.
// A false return means no strategy repaired anything; the retry proceeds on
// backoff alone.
type Recoverer interface {
	AttemptRecovery(ctx context.Context, err error) bool
}

// Executor retries operations according to its Config. Thread-safe; one
// executor is shared across callers.
type Executor struct {
	config    Config
	logger    *slog.Logger
	recoverer Recoverer
	sleep     func(ctx context.Context, d time.Duration) error
	tracer    trace.Tracer
}

// Option configures an Executor instance.
type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithRecoverer runs the recovery chain before each retry.
func WithRecoverer(r Recoverer) Option {
	return func(e *Executor) {
		e.recoverer = r
	}
}

// WithSleep overrides the backoff sleep. Tests inject a recording fake.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// New creates an executor. Zero config fields fall back to DatabaseConfig's
// values.
func New(config Config, opts ...Option) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}

	e := &Executor{
		config: config,
		sleep:  sleepContext,
		tracer: otel.Tracer("aegis/resilience/retry"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op until it succeeds, fails non-retryably, exhausts attempts, or
// the context expires. The last error is returned wrapped with its
// classification context.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "retry.Do",
		trace.WithAttributes(attribute.String("operation", name)))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			span.SetAttributes(attribute.String("outcome", "deadline"))
			return domainerrors.Wrap(err, domainerrors.CodeTimeout,
				fmt.Sprintf("%s aborted before attempt %d", name, attempt))
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 && e.logger != nil {
				e.logger.InfoContext(ctx, "operation recovered after retries",
					"operation", name,
					"attempts", attempt,
				)
			}
			span.SetAttributes(attribute.Int("attempts", attempt))
			return nil
		}
		lastErr = err

		classification := Classify(err)
		if !classification.Retryable {
			if e.logger != nil {
				e.logger.ErrorContext(ctx, "operation failed with non-retryable error",
					"operation", name,
					"category", string(classification.Category),
					"severity", string(classification.Severity),
					"error", err,
				)
			}
			span.SetAttributes(attribute.String("outcome", "non_retryable"))
			return fmt.Errorf("%s failed (%s, non-retryable): %w", name, classification.Category, err)
		}
		if attempt == e.config.MaxAttempts {
			break
		}

		if e.recoverer != nil {
			if recovered := e.recoverer.AttemptRecovery(ctx, err); recovered && e.logger != nil {
				e.logger.InfoContext(ctx, "recovery strategy succeeded before retry",
					"operation", name,
					"category", string(classification.Category),
				)
			}
		}

		delay := e.delayFor(attempt, classification)
		if e.logger != nil {
			e.logger.WarnContext(ctx, "operation failed, retrying",
				"operation", name,
				"attempt", attempt,
				"category", string(classification.Category),
				"delay", delay.String(),
				"error", err,
			)
		}
		if err := e.sleep(ctx, delay); err != nil {
			span.SetAttributes(attribute.String("outcome", "deadline"))
			return domainerrors.Wrap(err, domainerrors.CodeTimeout,
				fmt.Sprintf("%s aborted during backoff after attempt %d", name, attempt))
		}
	}

	classification := Classify(lastErr)
	if e.logger != nil {
		e.logger.ErrorContext(ctx, "operation exhausted retry attempts",
			"operation", name,
			"attempts", e.config.MaxAttempts,
			"category", string(classification.Category),
			"severity", string(classification.Severity),
			"error", lastErr,
		)
	}
	span.SetAttributes(attribute.String("outcome", "exhausted"))
	return fmt.Errorf("%s failed after %d attempts (%s): %w",
		name, e.config.MaxAttempts, classification.Category, lastErr)
}

// delayFor computes min(maxDelay, base * multiplier^(attempt-1)), overridden
// by the classification's suggested delay when that is longer.
func (e *Executor) delayFor(attempt int, classification Classification) time.Duration {
	backoff := float64(e.config.BaseDelay) * math.Pow(e.config.Multiplier, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay > e.config.MaxDelay {
		delay = e.config.MaxDelay
	}
	if classification.SuggestedDelay > delay {
		delay = classification.SuggestedDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
