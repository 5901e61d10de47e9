package models

import (
	"time"

	"github.com/google/uuid"

	"aegis/pkg/domain"
)

// LoginAttempt is one observed authentication attempt. Append-only per
// identifier; a single attempt is stored under both the account key and the
// IP key so either view can be evaluated independently.
type LoginAttempt struct {
	ID         uuid.UUID
	Identifier string // normalized account identifier (email)
	IPAddress  string
	UserAgent  string
	Success    bool
	Timestamp  time.Time
	UserID     string
	Metadata   map[string]string
}

// Verdict is the combined decision for a login attempt check.
type Verdict struct {
	Allowed     bool
	Locked      bool
	LockedUntil *time.Time
	// Remaining is the number of failed attempts left before lockout,
	// the minimum across the account and IP views.
	Remaining  int
	RetryAfter int // seconds until the caller may retry; 0 when allowed
	Severity   domain.Severity
}
