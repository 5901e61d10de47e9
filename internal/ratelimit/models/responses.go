package models

import "time"

// RateLimitExceededResponse is returned with HTTP 429 when an IP exceeds its quota.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// BlockedResponse is returned while an identifier is under a temporary block.
type BlockedResponse struct {
	Error        string    `json:"error"`
	Message      string    `json:"message"`
	RetryAfter   int       `json:"retry_after"`
	BlockedUntil time.Time `json:"blocked_until"`
}

// ServiceOverloadedResponse is returned with HTTP 503 when the global throttle trips.
type ServiceOverloadedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}
