package domain

// Severity grades security-relevant findings. Ordered from least to most severe
// so comparisons and escalation use integer rank, not string ordering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric rank of the severity. Unknown severities rank as info.
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the most severe of the given severities.
// Escalation across independent checks is always max, never de-escalated.
func MaxSeverity(severities ...Severity) Severity {
	out := SeverityInfo
	for _, s := range severities {
		if s.Rank() > out.Rank() {
			out = s
		}
	}
	return out
}
