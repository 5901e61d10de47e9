package models

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/domain"
)

// EventType classifies a security event. Each type carries a fixed base risk
// score; see BaseScore.
type EventType string

const (
	EventEndpointProbe      EventType = "endpoint_probe"
	EventAuthFailure        EventType = "auth_failure"
	EventSpoofedHeaders     EventType = "spoofed_headers"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventSuspiciousPath     EventType = "suspicious_path"
	EventAnomalousLogin     EventType = "anomalous_login"
	EventMaliciousUserAgent EventType = "malicious_user_agent"
	EventAccountLockout     EventType = "account_lockout"
	EventBruteForceAttempt  EventType = "brute_force_attempt"
	EventInjectionAttempt   EventType = "injection_attempt"
	EventSessionHijack      EventType = "session_hijack_suspected"
)

// baseScores is the fixed lookup table feeding risk scoring. Values span 20
// (low-signal probes) to 95 (suspected session hijack).
var baseScores = map[EventType]int{
	EventEndpointProbe:      20,
	EventAuthFailure:        30,
	EventSpoofedHeaders:     35,
	EventRateLimitExceeded:  40,
	EventSuspiciousPath:     50,
	EventAnomalousLogin:     55,
	EventMaliciousUserAgent: 60,
	EventAccountLockout:     70,
	EventBruteForceAttempt:  80,
	EventInjectionAttempt:   90,
	EventSessionHijack:      95,
}

// BaseScore returns the type's base risk score. Unknown types score 50.
func (t EventType) BaseScore() int {
	if s, ok := baseScores[t]; ok {
		return s
	}
	return 50
}

// Action is the deterministic response assigned to an event.
type Action string

const (
	ActionLogged            Action = "logged"
	ActionRateLimited       Action = "rate_limited"
	ActionBlocked           Action = "blocked"
	ActionAccountLocked     Action = "account_locked"
	ActionSessionTerminated Action = "session_terminated"
	ActionInvestigate       Action = "investigation_required"
)

// EventDetails carries structured evidence attached to an event. Attempt and
// distinct-IP counts feed risk-score bonuses; pattern tags identify which
// known-bad signatures matched.
type EventDetails struct {
	Attempts  int               `json:"attempts,omitempty"`
	UniqueIPs int               `json:"unique_ips,omitempty"`
	Patterns  []string          `json:"patterns,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// SecurityEvent is one classified security observation. Immutable once
// created; events are appended to a bounded ring and never updated.
type SecurityEvent struct {
	ID            uuid.UUID       `json:"id"`
	Type          EventType       `json:"type"`
	Severity      domain.Severity `json:"severity"`
	RiskScore     int             `json:"risk_score"`
	Action        Action          `json:"action"`
	Timestamp     time.Time       `json:"timestamp"`
	IP            string          `json:"ip"`
	UserID        string          `json:"user_id,omitempty"`
	Path          string          `json:"path"`
	Description   string          `json:"description"`
	Details       EventDetails    `json:"details"`
	CorrelationID string          `json:"correlation_id"`
}

// EventContext identifies where an event happened, separate from the evidence
// in EventDetails.
type EventContext struct {
	IP        string
	UserID    string
	Path      string
	RequestID string
}

// RequestFacts is the read-only request surface the detectors inspect.
type RequestFacts struct {
	Method    string
	Path      string
	Query     string
	UserAgent string
	Header    http.Header
	IP        string
	UserID    string
	RequestID string
}

// MetricsSummary aggregates the retained event window for the admin surface.
type MetricsSummary struct {
	WindowMinutes    int                     `json:"window_minutes"`
	TotalEvents      int                     `json:"total_events"`
	CountsByType     map[EventType]int       `json:"counts_by_type"`
	CountsBySeverity map[domain.Severity]int `json:"counts_by_severity"`
	CountsByAction   map[Action]int          `json:"counts_by_action"`
	RiskHistogram    RiskHistogram           `json:"risk_histogram"`
	TopIPs           []RiskRanking           `json:"top_ips"`
	TopUsers         []RiskRanking           `json:"top_users"`
}

// RiskHistogram buckets events by risk score: low is 0-30, medium 31-70,
// high 71-100.
type RiskHistogram struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// RiskRanking is one entry of a top-N list, ranked by mean risk score.
type RiskRanking struct {
	Subject       string  `json:"subject"`
	EventCount    int     `json:"event_count"`
	MeanRiskScore float64 `json:"mean_risk_score"`
}
