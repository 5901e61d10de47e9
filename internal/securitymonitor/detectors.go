package securitymonitor

import (
	"strings"

	"aegis/internal/securitymonitor/models"
	"aegis/pkg/domain"
)

// finding is one positive detector result, pre-scoring.
type finding struct {
	eventType   models.EventType
	severity    domain.Severity
	description string
	details     models.EventDetails
}

type detector func(facts models.RequestFacts) (finding, bool)

// defaultDetectors run in order on every analyzed request. Each inspects one
// slice of the request surface and is independent of the others.
var defaultDetectors = []detector{
	detectMaliciousUserAgent,
	detectSuspiciousPath,
	detectMaliciousQuery,
	detectSpoofableHeaders,
}

// scannerAgents are User-Agent substrings of common attack and recon tools.
var scannerAgents = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"dirbuster",
	"gobuster",
	"wpscan",
	"hydra",
	"metasploit",
	"zgrab",
}

func detectMaliciousUserAgent(facts models.RequestFacts) (finding, bool) {
	ua := strings.ToLower(facts.UserAgent)
	for _, tool := range scannerAgents {
		if strings.Contains(ua, tool) {
			return finding{
				eventType:   models.EventMaliciousUserAgent,
				severity:    domain.SeverityHigh,
				description: "request from known scanning tool",
				details: models.EventDetails{
					Patterns: []string{"scanner"},
					Extra:    map[string]string{"matched": tool},
				},
			}, true
		}
	}
	return finding{}, false
}

// suspiciousPaths are fragments of admin, config and backup locations that
// have no legitimate route in this service.
var suspiciousPaths = []string{
	"/wp-admin",
	"/phpmyadmin",
	"/.env",
	"/.git",
	"/config.php",
	"/backup",
	"/etc/passwd",
	"/.aws",
	"/actuator",
	"/server-status",
}

func detectSuspiciousPath(facts models.RequestFacts) (finding, bool) {
	path := strings.ToLower(facts.Path)
	for _, p := range suspiciousPaths {
		if strings.Contains(path, p) {
			return finding{
				eventType:   models.EventSuspiciousPath,
				severity:    domain.SeverityMedium,
				description: "request probing a sensitive path",
				details: models.EventDetails{
					Extra: map[string]string{"matched": p},
				},
			}, true
		}
	}
	if strings.Contains(path, "..") {
		return finding{
			eventType:   models.EventSuspiciousPath,
			severity:    domain.SeverityHigh,
			description: "path traversal sequence in request path",
			details: models.EventDetails{
				Patterns: []string{"traversal"},
			},
		}, true
	}
	return finding{}, false
}

// injectionMarkers are query-string fragments characteristic of SQL injection
// and script injection probes. Matched case-insensitively against the raw
// query string.
var injectionMarkers = []string{
	"union select",
	"union+select",
	"' or '1'='1",
	"or 1=1",
	"; drop table",
	"<script",
	"javascript:",
	"onerror=",
	"../",
	"%2e%2e%2f",
}

func detectMaliciousQuery(facts models.RequestFacts) (finding, bool) {
	query := strings.ToLower(facts.Query)
	if query == "" {
		return finding{}, false
	}
	for _, marker := range injectionMarkers {
		if strings.Contains(query, marker) {
			return finding{
				eventType:   models.EventInjectionAttempt,
				severity:    domain.SeverityHigh,
				description: "injection marker in query string",
				details: models.EventDetails{
					Patterns: []string{"injection"},
					Extra:    map[string]string{"matched": marker},
				},
			}, true
		}
	}
	return finding{}, false
}

// spoofableHeaders are forwarding headers only a trusted proxy should set.
// Their presence on a request that did not come through one suggests an
// attempt to forge origin or rewrite routing.
var spoofableHeaders = []string{
	"X-Original-URL",
	"X-Rewrite-URL",
	"X-Forwarded-Host",
	"X-Forwarded-Server",
	"X-HTTP-Method-Override",
}

func detectSpoofableHeaders(facts models.RequestFacts) (finding, bool) {
	if facts.Header == nil {
		return finding{}, false
	}
	var present []string
	for _, h := range spoofableHeaders {
		if facts.Header.Get(h) != "" {
			present = append(present, h)
		}
	}
	if len(present) == 0 {
		return finding{}, false
	}
	severity := domain.SeverityLow
	if len(present) > 1 {
		severity = domain.SeverityMedium
	}
	return finding{
		eventType:   models.EventSpoofedHeaders,
		severity:    severity,
		description: "spoofable forwarding headers present",
		details: models.EventDetails{
			Extra: map[string]string{"headers": strings.Join(present, ",")},
		},
	}, true
}
