package securitymonitor

import (
	"fmt"
	"math"
	"time"

	"aegis/internal/securitymonitor/models"
	"aegis/pkg/domain"
)

// severityMultipliers scale the event type's base score. Info halves it,
// critical doubles it.
var severityMultipliers = map[domain.Severity]float64{
	domain.SeverityInfo:     0.5,
	domain.SeverityLow:      0.75,
	domain.SeverityMedium:   1.0,
	domain.SeverityHigh:     1.5,
	domain.SeverityCritical: 2.0,
}

// patternBonuses reward specific known-bad signature tags in the evidence.
var patternBonuses = map[string]int{
	"injection": 25,
	"scanner":   20,
	"traversal": 20,
}

// riskScore derives the 0-100 score: base score per type scaled by severity,
// plus additive bonuses for volume (attempts over 10, distinct IPs over 5)
// and for malicious-pattern tags, clamped to [0,100].
func riskScore(eventType models.EventType, severity domain.Severity, details models.EventDetails) int {
	mult, ok := severityMultipliers[severity]
	if !ok {
		mult = 1.0
	}
	score := int(math.Round(float64(eventType.BaseScore()) * mult))

	if details.Attempts > 10 {
		score += 20
	}
	if details.UniqueIPs > 5 {
		score += 15
	}
	for _, p := range details.Patterns {
		if bonus, ok := patternBonuses[p]; ok {
			score += bonus
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// actionFor maps severity and type to a response. A deterministic table, not
// a learned policy.
func actionFor(eventType models.EventType, severity domain.Severity) models.Action {
	switch severity {
	case domain.SeverityCritical:
		switch eventType {
		case models.EventSessionHijack, models.EventAnomalousLogin:
			return models.ActionSessionTerminated
		default:
			return models.ActionInvestigate
		}
	case domain.SeverityHigh:
		switch eventType {
		case models.EventBruteForceAttempt, models.EventAuthFailure, models.EventAccountLockout:
			return models.ActionAccountLocked
		default:
			return models.ActionBlocked
		}
	case domain.SeverityMedium:
		switch eventType {
		case models.EventRateLimitExceeded, models.EventBruteForceAttempt:
			return models.ActionRateLimited
		default:
			return models.ActionLogged
		}
	default:
		return models.ActionLogged
	}
}

// correlationBucket is the grouping granularity for correlation IDs.
const correlationBucket = 5 * time.Minute

// correlationID groups events of the same type from the same IP inside one
// five-minute bucket, so downstream consumers can fold repeats together.
func correlationID(eventType models.EventType, ip string, now time.Time) string {
	bucket := now.Unix() / int64(correlationBucket/time.Second)
	return fmt.Sprintf("%s:%s:%d", eventType, ip, bucket)
}
