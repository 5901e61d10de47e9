package bruteforce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/bruteforce/models"
	"aegis/internal/bruteforce/store/attempts"
	"aegis/pkg/domain"
	"aegis/pkg/requesttime"
)

type GuardSuite struct {
	suite.Suite
	guard *Guard
	store *attempts.InMemoryStore
	base  time.Time
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.store = attempts.New(attempts.DefaultHorizon)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.guard, err = New(s.store, WithLogger(logger))
	s.Require().NoError(err)

	s.base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func (s *GuardSuite) at(offset time.Duration) context.Context {
	return requesttime.WithTime(context.Background(), s.base.Add(offset))
}

func (s *GuardSuite) recordFailure(ctx context.Context, identifier, ip string) {
	s.Require().NoError(s.guard.RecordLoginAttempt(ctx, models.LoginAttempt{
		Identifier: identifier,
		IPAddress:  ip,
		Success:    false,
	}))
}

func (s *GuardSuite) TestLockoutAfterMaxFailures() {
	for i := 0; i < 5; i++ {
		s.recordFailure(s.at(time.Duration(i)*time.Minute), "u1@example.com", "10.0.0.1")
	}

	verdict, err := s.guard.CheckLoginAttempt(s.at(5*time.Minute), "u1@example.com", "10.0.0.1")
	s.Require().NoError(err)
	s.False(verdict.Allowed)
	s.True(verdict.Locked)
	s.Equal(domain.SeverityHigh, verdict.Severity)

	// Five failures is exactly the threshold, so the base 30 minute lockout
	// applies, anchored on the last failure.
	s.Require().NotNil(verdict.LockedUntil)
	s.Equal(s.base.Add(4*time.Minute).Add(30*time.Minute), *verdict.LockedUntil)
}

func (s *GuardSuite) TestRemainingAndSeverityEscalation() {
	s.Run("clean identifier has all attempts remaining", func() {
		verdict, err := s.guard.CheckLoginAttempt(s.at(0), "fresh@example.com", "10.0.0.2")
		s.Require().NoError(err)
		s.True(verdict.Allowed)
		s.Equal(5, verdict.Remaining)
		s.Equal(domain.SeverityInfo, verdict.Severity)
	})

	s.Run("severity rises to medium near the threshold", func() {
		for i := 0; i < 3; i++ {
			s.recordFailure(s.at(0), "worn@example.com", "10.0.0.3")
		}
		verdict, err := s.guard.CheckLoginAttempt(s.at(0), "worn@example.com", "10.0.0.3")
		s.Require().NoError(err)
		s.True(verdict.Allowed)
		s.Equal(2, verdict.Remaining)
		s.Equal(domain.SeverityMedium, verdict.Severity)
	})
}

func (s *GuardSuite) TestProgressiveLockoutEscalation() {
	cfg := DefaultConfig()

	s.Run("lockout is monotonically non-decreasing in failure count", func() {
		prev := time.Duration(0)
		for failures := cfg.MaxAttempts; failures <= cfg.MaxAttempts+8; failures++ {
			history := failedAttempts(failures, s.base)
			st := evaluateFailures(history, s.base, cfg)
			s.Require().False(st.lockedUntil.IsZero())

			lockout := st.lockedUntil.Sub(st.lastFailure)
			s.GreaterOrEqual(lockout, prev)
			prev = lockout
		}
	})

	s.Run("escalation caps at sixteen times the base", func() {
		history := failedAttempts(50, s.base)
		st := evaluateFailures(history, s.base, cfg)
		s.Equal(cfg.BaseLockout*16, st.lockedUntil.Sub(st.lastFailure))
	})

	s.Run("failures outside the window do not count", func() {
		history := failedAttempts(10, s.base.Add(-time.Hour))
		st := evaluateFailures(history, s.base, cfg)
		s.Zero(st.failCount)
		s.True(st.lockedUntil.IsZero())
	})
}

func (s *GuardSuite) TestIPViewIsMostRestrictive() {
	// One IP sprays five different accounts. Each account has a single
	// failure, but the IP view accumulates all of them.
	for i := 0; i < 5; i++ {
		identifier := string(rune('a'+i)) + "@example.com"
		s.recordFailure(s.at(0), identifier, "10.0.0.66")
	}

	verdict, err := s.guard.CheckLoginAttempt(s.at(0), "f@example.com", "10.0.0.66")
	s.Require().NoError(err)
	s.False(verdict.Allowed, "IP view lockout applies to an untouched account")

	s.Run("same account from a clean IP is allowed", func() {
		verdict, err := s.guard.CheckLoginAttempt(s.at(0), "f@example.com", "10.0.0.99")
		s.Require().NoError(err)
		s.True(verdict.Allowed)
	})
}

func (s *GuardSuite) TestIdentifierIsCaseInsensitive() {
	for i := 0; i < 5; i++ {
		s.recordFailure(s.at(0), "User@Example.com", "10.0.0.5")
	}

	verdict, err := s.guard.CheckLoginAttempt(s.at(0), "user@example.com", "10.0.0.8")
	s.Require().NoError(err)
	s.False(verdict.Allowed)
}

func (s *GuardSuite) TestSuccessDoesNotClearHistory() {
	for i := 0; i < 4; i++ {
		s.recordFailure(s.at(0), "sticky@example.com", "10.0.0.7")
	}
	s.Require().NoError(s.guard.RecordLoginAttempt(s.at(0), models.LoginAttempt{
		Identifier: "sticky@example.com",
		IPAddress:  "10.0.0.7",
		Success:    true,
	}))

	verdict, err := s.guard.CheckLoginAttempt(s.at(0), "sticky@example.com", "10.0.0.200")
	s.Require().NoError(err)
	s.Equal(1, verdict.Remaining, "successful login must not erase failures")

	s.Run("explicit clear resets the account view", func() {
		s.Require().NoError(s.guard.ClearFailedAttempts(s.at(0), "sticky@example.com"))
		verdict, err := s.guard.CheckLoginAttempt(s.at(0), "sticky@example.com", "10.0.0.200")
		s.Require().NoError(err)
		s.Equal(5, verdict.Remaining)
	})
}

func (s *GuardSuite) TestManualLockAndUnlock() {
	ctx := s.at(0)

	s.Require().NoError(s.guard.LockAccount(ctx, "victim@example.com", "compromise suspected"))

	verdict, err := s.guard.CheckLoginAttempt(ctx, "victim@example.com", "10.0.0.50")
	s.Require().NoError(err)
	s.False(verdict.Allowed)
	s.True(verdict.Locked)

	s.Require().NoError(s.guard.UnlockAccount(ctx, "victim@example.com"))

	verdict, err = s.guard.CheckLoginAttempt(ctx, "victim@example.com", "10.0.0.50")
	s.Require().NoError(err)
	s.True(verdict.Allowed)
	s.Equal(5, verdict.Remaining, "unlock erases history entirely")
}

type failingAttemptStore struct{}

func (failingAttemptStore) Append(context.Context, string, models.LoginAttempt) error {
	return errors.New("store unavailable")
}

func (failingAttemptStore) List(context.Context, string) ([]models.LoginAttempt, error) {
	return nil, errors.New("store unavailable")
}

func (failingAttemptStore) Clear(context.Context, string) error {
	return errors.New("store unavailable")
}

func (s *GuardSuite) TestCheckFailsOpenOnStoreError() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard, err := New(failingAttemptStore{}, WithLogger(logger))
	s.Require().NoError(err)

	verdict, err := guard.CheckLoginAttempt(context.Background(), "anyone@example.com", "10.0.0.1")
	s.Require().NoError(err, "store failure must not surface to the caller")
	s.True(verdict.Allowed)
}

func failedAttempts(n int, last time.Time) []models.LoginAttempt {
	out := make([]models.LoginAttempt, n)
	for i := range out {
		out[i] = models.LoginAttempt{
			ID:        uuid.New(),
			Success:   false,
			Timestamp: last.Add(-time.Duration(n-1-i) * time.Second),
		}
	}
	return out
}
