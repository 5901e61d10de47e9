// Package anomaly flags login attempts that deviate from an account's
// established pattern. Detection is heuristic and advisory: findings feed the
// security monitor and step-up prompts, they never block a login on their own.
package anomaly

import (
	"fmt"
	"time"

	"github.com/mssola/useragent"

	"aegis/internal/bruteforce/models"
	"aegis/pkg/domain"
)

// Pattern names a single detected deviation.
type Pattern string

const (
	PatternOddHours      Pattern = "odd_hours"
	PatternRapidAttempts Pattern = "rapid_attempts"
	PatternNewDevice     Pattern = "new_device"
)

// Assessment is the detector's read on one login attempt.
type Assessment struct {
	Unusual            bool
	Patterns           []Pattern
	Severity           domain.Severity
	RecommendedActions []string
}

// Config tunes the detection heuristics.
type Config struct {
	// NormalHourStart/End bound the account's expected activity hours in the
	// attempt timestamps' local time. Attempts outside flag odd_hours.
	NormalHourStart int
	NormalHourEnd   int
	// RapidThreshold is how many attempts inside RapidWindow flag rapid_attempts.
	RapidThreshold int
	RapidWindow    time.Duration
}

func DefaultConfig() Config {
	return Config{
		NormalHourStart: 6,
		NormalHourEnd:   23,
		RapidThreshold:  4,
		RapidWindow:     5 * time.Minute,
	}
}

// Detector analyzes login attempts against per-account history.
// Pure computation; it holds no state and is safe for concurrent use.
type Detector struct {
	config Config
}

func New(config Config) *Detector {
	return &Detector{config: config}
}

// Analyze compares the current attempt against the account's history and
// reports any deviating patterns. Severity is the maximum across findings.
func (d *Detector) Analyze(history []models.LoginAttempt, current models.LoginAttempt) Assessment {
	var patterns []Pattern
	var severities []domain.Severity

	if d.isOddHours(current.Timestamp) {
		patterns = append(patterns, PatternOddHours)
		severities = append(severities, domain.SeverityLow)
	}
	if d.isRapid(history, current) {
		patterns = append(patterns, PatternRapidAttempts)
		severities = append(severities, domain.SeverityMedium)
	}
	if d.isNewDevice(history, current) {
		patterns = append(patterns, PatternNewDevice)
		severities = append(severities, domain.SeverityMedium)
	}

	if len(patterns) == 0 {
		return Assessment{Severity: domain.SeverityInfo}
	}

	return Assessment{
		Unusual:            true,
		Patterns:           patterns,
		Severity:           domain.MaxSeverity(severities...),
		RecommendedActions: recommend(patterns),
	}
}

func (d *Detector) isOddHours(ts time.Time) bool {
	h := ts.Hour()
	return h < d.config.NormalHourStart || h >= d.config.NormalHourEnd
}

func (d *Detector) isRapid(history []models.LoginAttempt, current models.LoginAttempt) bool {
	cutoff := current.Timestamp.Add(-d.config.RapidWindow)
	recent := 1 // the current attempt itself
	for _, a := range history {
		if a.ID == current.ID {
			continue
		}
		if a.Timestamp.After(cutoff) && !a.Timestamp.After(current.Timestamp) {
			recent++
		}
	}
	return recent >= d.config.RapidThreshold
}

// isNewDevice reports whether the current attempt's device fingerprint has
// never appeared in the account's history. An account with no prior history
// has no baseline, so its first device is not flagged.
func (d *Detector) isNewDevice(history []models.LoginAttempt, current models.LoginAttempt) bool {
	if len(history) == 0 || current.UserAgent == "" {
		return false
	}
	fp := DeviceFingerprint(current.UserAgent)
	seen := false
	for _, a := range history {
		if a.ID == current.ID || a.UserAgent == "" {
			continue
		}
		seen = true
		if DeviceFingerprint(a.UserAgent) == fp {
			return false
		}
	}
	return seen
}

// DeviceFingerprint reduces a User-Agent to a coarse browser/OS/platform
// triple so patch-level version bumps do not read as a new device.
func DeviceFingerprint(rawUA string) string {
	ua := useragent.New(rawUA)
	name, _ := ua.Browser()
	return fmt.Sprintf("%s/%s/%s", name, ua.OS(), ua.Platform())
}

func recommend(patterns []Pattern) []string {
	actions := make([]string, 0, len(patterns)+1)
	actions = append(actions, "notify_user")
	for _, p := range patterns {
		switch p {
		case PatternRapidAttempts:
			actions = append(actions, "require_captcha")
		case PatternNewDevice:
			actions = append(actions, "require_mfa")
		}
	}
	return actions
}
