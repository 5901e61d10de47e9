package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"aegis/pkg/domain"
	domainerrors "aegis/pkg/domain-errors"
)

func TestClassify(t *testing.T) {
	t.Run("explicit tag wins over message content", func(t *testing.T) {
		err := Classified(CategoryValidation, errors.New("connection timeout"))
		c := Classify(err)
		assert.Equal(t, CategoryValidation, c.Category)
		assert.False(t, c.Retryable)
	})

	t.Run("domain error codes map to categories", func(t *testing.T) {
		c := Classify(domainerrors.New(domainerrors.CodeRateLimited, "slow down"))
		assert.Equal(t, CategoryRateLimit, c.Category)
		assert.True(t, c.Retryable)

		c = Classify(domainerrors.New(domainerrors.CodeUnauthorized, "bad credentials"))
		assert.Equal(t, CategoryAuthentication, c.Category)
		assert.False(t, c.Retryable)
	})

	t.Run("message matching is the fallback", func(t *testing.T) {
		cases := map[string]Category{
			"connection timeout":           CategoryNetwork,
			"dial tcp: connection refused": CategoryNetwork,
			"deadlock detected":            CategoryDatabase,
			"429 too many requests":        CategoryRateLimit,
			"validation failed on field x": CategoryValidation,
			"invalid token":                CategoryAuthentication,
			"something completely novel":   CategoryUnknown,
		}
		for msg, want := range cases {
			assert.Equal(t, want, Classify(errors.New(msg)).Category, msg)
		}
	})

	t.Run("context cancellation classifies as network", func(t *testing.T) {
		assert.Equal(t, CategoryNetwork, Classify(context.DeadlineExceeded).Category)
	})

	t.Run("authentication and validation are never retryable", func(t *testing.T) {
		assert.False(t, classifications[CategoryAuthentication].Retryable)
		assert.False(t, classifications[CategoryValidation].Retryable)
		for _, cat := range []Category{CategoryNetwork, CategoryDatabase, CategoryRateLimit, CategorySecurityViolation, CategoryUnknown} {
			assert.True(t, classifications[cat].Retryable, string(cat))
		}
	})

	t.Run("severity escalates with category", func(t *testing.T) {
		assert.Equal(t, domain.SeverityCritical, classifications[CategorySecurityViolation].Severity)
		assert.Equal(t, domain.SeverityHigh, classifications[CategoryDatabase].Severity)
	})
}

type ExecutorSuite struct {
	suite.Suite
	logger *slog.Logger
	slept  []time.Duration
}

func TestExecutorSuite(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func (s *ExecutorSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.slept = nil
}

func (s *ExecutorSuite) newExecutor(cfg Config, opts ...Option) *Executor {
	opts = append([]Option{
		WithLogger(s.logger),
		WithSleep(func(_ context.Context, d time.Duration) error {
			s.slept = append(s.slept, d)
			return nil
		}),
	}, opts...)
	return New(cfg, opts...)
}

func (s *ExecutorSuite) TestSucceedsFirstTry() {
	executor := s.newExecutor(DatabaseConfig())
	calls := 0

	err := executor.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})

	s.NoError(err)
	s.Equal(1, calls)
	s.Empty(s.slept)
}

func (s *ExecutorSuite) TestRecoversAfterTransientFailures() {
	// Three connection timeouts then success, under 5 attempts, base 500ms,
	// multiplier 2: delays are 500ms, 1s, 2s.
	executor := s.newExecutor(Config{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	})

	calls := 0
	err := executor.Do(context.Background(), "db-write", func(context.Context) error {
		calls++
		if calls <= 3 {
			return errors.New("connection timeout")
		}
		return nil
	})

	s.NoError(err)
	s.Equal(4, calls)
	s.Equal([]time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, s.slept)
}

func (s *ExecutorSuite) TestNonRetryableFailsImmediately() {
	executor := s.newExecutor(DatabaseConfig())
	calls := 0

	err := executor.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return Classified(CategoryValidation, errors.New("bad payload"))
	})

	s.Error(err)
	s.Equal(1, calls, "non-retryable errors get exactly one attempt")
	s.Empty(s.slept)
}

func (s *ExecutorSuite) TestExhaustionMakesExactlyMaxAttempts() {
	executor := s.newExecutor(Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	})

	calls := 0
	cause := errors.New("connection refused")
	err := executor.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})

	s.Require().Error(err)
	s.ErrorIs(err, cause, "the original error must surface")
	s.Equal(3, calls)
	s.Len(s.slept, 2, "no sleep after the final attempt")
}

func (s *ExecutorSuite) TestDelaysAreNonDecreasingAndCapped() {
	maxDelay := 700 * time.Millisecond
	executor := s.newExecutor(Config{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    maxDelay,
		Multiplier:  2.0,
	})

	_ = executor.Do(context.Background(), "op", func(context.Context) error {
		return errors.New("connection refused")
	})

	s.Require().Len(s.slept, 5)
	for i := 1; i < len(s.slept); i++ {
		s.GreaterOrEqual(s.slept[i], s.slept[i-1])
	}
	for _, d := range s.slept {
		s.LessOrEqual(d, maxDelay)
	}
}

func (s *ExecutorSuite) TestRateLimitSuggestedDelayOverridesBackoff() {
	executor := s.newExecutor(Config{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	})

	_ = executor.Do(context.Background(), "op", func(context.Context) error {
		return errors.New("429 too many requests")
	})

	s.Require().Len(s.slept, 1)
	s.Equal(5*time.Second, s.slept[0], "rate limited calls wait the suggested delay")
}

func (s *ExecutorSuite) TestExpiredContextAborts() {
	executor := New(DatabaseConfig(), WithLogger(s.logger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := executor.Do(ctx, "op", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	s.Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeTimeout))
	s.Zero(calls)
}

type recordingRecoverer struct {
	calls  int
	result bool
}

func (r *recordingRecoverer) AttemptRecovery(context.Context, error) bool {
	r.calls++
	return r.result
}

func (s *ExecutorSuite) TestRecovererRunsBetweenAttempts() {
	rec := &recordingRecoverer{result: true}
	executor := s.newExecutor(Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}, WithRecoverer(rec))

	_ = executor.Do(context.Background(), "op", func(context.Context) error {
		return errors.New("connection refused")
	})

	s.Equal(2, rec.calls, "recovery runs before each retry, not after the last failure")
}

func (s *ExecutorSuite) TestDoValue() {
	executor := s.newExecutor(DatabaseConfig())
	calls := 0

	got, err := DoValue(context.Background(), executor, "fetch", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection timeout")
		}
		return "payload", nil
	})

	s.NoError(err)
	s.Equal("payload", got)
}
