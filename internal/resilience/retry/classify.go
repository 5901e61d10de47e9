package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"aegis/pkg/domain"
	domainerrors "aegis/pkg/domain-errors"
)

// Category buckets a failure for retry policy and logging.
type Category string

const (
	CategoryNetwork           Category = "network"
	CategoryDatabase          Category = "database"
	CategoryRateLimit         Category = "rate_limit"
	CategoryAuthentication    Category = "authentication"
	CategoryValidation        Category = "validation"
	CategorySecurityViolation Category = "security_violation"
	CategoryUnknown           Category = "unknown"
)

// Classification is the derived retry policy for one failure.
type Classification struct {
	Category  Category
	Retryable bool
	Severity  domain.Severity
	// SuggestedDelay overrides the executor's computed backoff when non-zero.
	SuggestedDelay time.Duration
}

// classifications is the fixed per-category policy table. Authentication and
// validation failures never resolve by retrying; everything else defaults to
// retryable.
var classifications = map[Category]Classification{
	CategoryNetwork:           {Category: CategoryNetwork, Retryable: true, Severity: domain.SeverityMedium},
	CategoryDatabase:          {Category: CategoryDatabase, Retryable: true, Severity: domain.SeverityHigh},
	CategoryRateLimit:         {Category: CategoryRateLimit, Retryable: true, Severity: domain.SeverityLow, SuggestedDelay: 5 * time.Second},
	CategoryAuthentication:    {Category: CategoryAuthentication, Retryable: false, Severity: domain.SeverityHigh},
	CategoryValidation:        {Category: CategoryValidation, Retryable: false, Severity: domain.SeverityLow},
	CategorySecurityViolation: {Category: CategorySecurityViolation, Retryable: true, Severity: domain.SeverityCritical},
	CategoryUnknown:           {Category: CategoryUnknown, Retryable: true, Severity: domain.SeverityMedium},
}

// ClassifiedError tags an error with its category at the point of origin, so
// downstream classification does not depend on message content.
type ClassifiedError struct {
	Category Category
	Err      error
}

func (e *ClassifiedError) Error() string {
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classified wraps err with an explicit category.
func Classified(category Category, err error) error {
	return &ClassifiedError{Category: category, Err: err}
}

// messagePatterns drive the fallback classification for opaque errors from
// external dependencies. First matching category wins; categories are probed
// from most to least specific.
var messagePatterns = []struct {
	category Category
	keywords []string
}{
	{CategoryRateLimit, []string{"rate limit", "too many requests", "quota exceeded", "429"}},
	{CategoryAuthentication, []string{"unauthorized", "authentication", "invalid token", "token expired", "forbidden", "401", "403"}},
	{CategoryValidation, []string{"validation", "invalid input", "malformed", "bad request", "400"}},
	{CategorySecurityViolation, []string{"security violation", "blocked by policy", "policy denied"}},
	{CategoryDatabase, []string{"database", "sql", "deadlock", "duplicate key", "unique constraint", "connection pool"}},
	{CategoryNetwork, []string{"connection", "timeout", "timed out", "refused", "unreachable", "dns", "dial", "broken pipe", "reset by peer", "no such host"}},
}

// Classify resolves the retry policy for err. Precedence: an explicit
// ClassifiedError tag, then a domain error code, then message-content
// matching, then unknown.
func Classify(err error) Classification {
	if err == nil {
		return classifications[CategoryUnknown]
	}

	var tagged *ClassifiedError
	if errors.As(err, &tagged) {
		return classifications[tagged.Category]
	}

	if c, ok := classifyDomainError(err); ok {
		return c
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return classifications[CategoryNetwork]
	}

	msg := strings.ToLower(err.Error())
	for _, mp := range messagePatterns {
		for _, kw := range mp.keywords {
			if strings.Contains(msg, kw) {
				return classifications[mp.category]
			}
		}
	}
	return classifications[CategoryUnknown]
}

func classifyDomainError(err error) (Classification, bool) {
	var derr *domainerrors.Error
	if !errors.As(err, &derr) {
		return Classification{}, false
	}
	switch derr.Code {
	case domainerrors.CodeRateLimited:
		return classifications[CategoryRateLimit], true
	case domainerrors.CodeUnauthorized, domainerrors.CodeForbidden:
		return classifications[CategoryAuthentication], true
	case domainerrors.CodeValidation, domainerrors.CodeInvalidInput, domainerrors.CodeBadRequest:
		return classifications[CategoryValidation], true
	case domainerrors.CodePolicyDenied:
		return classifications[CategorySecurityViolation], true
	case domainerrors.CodeTimeout, domainerrors.CodeUnavailable:
		return classifications[CategoryNetwork], true
	default:
		return Classification{}, false
	}
}
