package models

import (
	"fmt"
	"hash/fnv"
	"time"
)

// EndpointClass groups routes that share a rate limit policy.
type EndpointClass string

const (
	ClassAuth    EndpointClass = "auth"    // login, token, password reset
	ClassAPI     EndpointClass = "api"     // general authenticated API
	ClassWebhook EndpointClass = "webhook" // inbound webhook ingestion (burst-tolerant)
	ClassHealth  EndpointClass = "health"  // health/status probes (relaxed)
	ClassAdmin   EndpointClass = "admin"   // operational read/write surface
)

// KeyStrategy selects how the rate limit identifier is derived from request facts.
type KeyStrategy string

const (
	// StrategyIP keys on the client IP alone.
	StrategyIP KeyStrategy = "ip"
	// StrategyIPUserAgent keys on client IP plus a hash of the user agent,
	// separating distinct clients behind a shared NAT.
	StrategyIPUserAgent KeyStrategy = "ip_ua"
	// StrategyIPSignature keys on client IP plus a webhook signature prefix,
	// separating webhook senders sharing an egress IP.
	StrategyIPSignature KeyStrategy = "ip_sig"
)

// Limit is the window policy for one endpoint class.
type Limit struct {
	MaxRequests int
	Window      time.Duration
	// Block is an optional penalty: once MaxRequests is exceeded the identifier
	// is denied for this duration without touching the window count. Zero disables it.
	Block time.Duration
}

// Result is the outcome of a single window check.
type Result struct {
	Allowed      bool
	Bypassed     bool // allowlisted identifier, limit not enforced
	Limit        int
	Remaining    int
	ResetAt      time.Time
	RetryAfter   int // seconds until the caller may retry; 0 when allowed
	Blocked      bool
	BlockedUntil *time.Time
}

// RateLimitKey is the composite key for window counter storage.
type RateLimitKey struct {
	Identifier string
	Class      EndpointClass
}

// NewRateLimitKey builds a storage key for the identifier and endpoint class.
func NewRateLimitKey(identifier string, class EndpointClass) RateLimitKey {
	return RateLimitKey{Identifier: identifier, Class: class}
}

func (k RateLimitKey) String() string {
	return fmt.Sprintf("rl:%s:%s", k.Class, k.Identifier)
}

// DeriveIdentifier computes the rate limit identifier for a key strategy.
// User agent and signature components are hashed/truncated so keys stay short
// and never embed raw header content.
func DeriveIdentifier(strategy KeyStrategy, ip, userAgent, signature string) string {
	switch strategy {
	case StrategyIPUserAgent:
		return fmt.Sprintf("%s:%s", ip, hashComponent(userAgent))
	case StrategyIPSignature:
		return fmt.Sprintf("%s:%s", ip, signaturePrefix(signature))
	default:
		return ip
	}
}

func hashComponent(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func signaturePrefix(sig string) string {
	const prefixLen = 12
	if len(sig) <= prefixLen {
		return sig
	}
	return sig[:prefixLen]
}
