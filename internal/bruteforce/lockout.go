package bruteforce

import (
	"time"

	"aegis/internal/bruteforce/models"
)

// lockoutMultipliers escalate the lockout duration for each failure beyond the
// threshold. The last multiplier caps escalation at 16x the base duration.
var lockoutMultipliers = [...]int{1, 2, 4, 8, 16}

// Config tunes the failure window and progressive lockout.
type Config struct {
	MaxAttempts int           // failed attempts in Window before lockout
	Window      time.Duration // counting window for failures
	BaseLockout time.Duration // first lockout duration; escalates per extra failure
}

// DefaultConfig matches the stock policy: 5 attempts per 15 minutes,
// 30 minute base lockout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		BaseLockout: 30 * time.Minute,
	}
}

// failureState is the derived lockout state for one identifier view.
// It is computed from attempt history on every check rather than stored,
// so there is no separate lockout record to keep consistent.
type failureState struct {
	failCount   int
	lastFailure time.Time
	lockedUntil time.Time // zero when not locked
}

func (st failureState) locked(now time.Time) bool {
	return !st.lockedUntil.IsZero() && now.Before(st.lockedUntil)
}

func (st failureState) remaining(cfg Config) int {
	r := cfg.MaxAttempts - st.failCount
	if r < 0 {
		return 0
	}
	return r
}

// evaluateFailures derives the lockout state from attempt history.
// Pure function over retrieved state; all I/O stays in the Guard.
//
// The lockout duration is BaseLockout scaled by lockoutMultipliers indexed on
// how many failures beyond MaxAttempts have accrued, so exactly MaxAttempts
// failures yields the base duration and each further failure doubles it up to
// the 16x cap. Escalation is monotonically non-decreasing in failure count.
func evaluateFailures(attempts []models.LoginAttempt, now time.Time, cfg Config) failureState {
	var st failureState
	cutoff := now.Add(-cfg.Window)

	for _, a := range attempts {
		if a.Success || a.Timestamp.Before(cutoff) {
			continue
		}
		st.failCount++
		if a.Timestamp.After(st.lastFailure) {
			st.lastFailure = a.Timestamp
		}
	}

	if st.failCount >= cfg.MaxAttempts {
		over := st.failCount - cfg.MaxAttempts
		if over >= len(lockoutMultipliers) {
			over = len(lockoutMultipliers) - 1
		}
		st.lockedUntil = st.lastFailure.Add(cfg.BaseLockout * time.Duration(lockoutMultipliers[over]))
	}

	return st
}
