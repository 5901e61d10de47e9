// Package monitor tracks operation outcomes and derives overall service
// health from alerts, error rate and failure streaks.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/resilience/monitor/metrics"
	"aegis/pkg/audit"
	"aegis/pkg/domain"
	"aegis/pkg/platform/circuit"
	"aegis/pkg/requesttime"
)

// Status is the derived health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// systemDownAfter is how long without any successful outcome before the
// monitor raises a system_down alert independent of the failure streak.
const systemDownAfter = 30 * time.Minute

// Config tunes the health thresholds.
type Config struct {
	// FailureStreakThreshold raises consecutive_failures once crossed.
	FailureStreakThreshold int
	// ErrorRateThreshold is the tolerated error fraction over ErrorRateWindow.
	// At or above the threshold health degrades; at twice it, unhealthy.
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
	// CheckInterval paces the periodic health check loop.
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureStreakThreshold: 5,
		ErrorRateThreshold:     0.05,
		ErrorRateWindow:        5 * time.Minute,
		CheckInterval:          30 * time.Second,
	}
}

// HealthSummary is the point-in-time health report.
type HealthSummary struct {
	Status              Status        `json:"status"`
	ErrorRate           float64       `json:"error_rate"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ActiveAlerts        []Alert       `json:"active_alerts"`
	Recommendations     []string      `json:"recommendations"`
	CheckedAt           time.Time     `json:"checked_at"`
	SinceLastSuccess    time.Duration `json:"since_last_success"`
}

type outcome struct {
	at      time.Time
	success bool
}

// Monitor tracks operation results and answers health queries.
// Thread-safe for concurrent use.
type Monitor struct {
	config         Config
	alerts         *AlertStore
	breaker        *circuit.Breaker
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher

	mu          sync.Mutex
	outcomes    []outcome
	lastSuccess time.Time
}

// Option configures a Monitor instance.
type Option func(*Monitor)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mx
	}
}

func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(m *Monitor) {
		m.auditPublisher = publisher
	}
}

func WithConfig(cfg Config) Option {
	return func(m *Monitor) {
		m.config = cfg
	}
}

// New creates a resilience monitor. The last-success clock starts at
// construction time so a freshly started process is not instantly system_down.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		config: DefaultConfig(),
		alerts: NewAlertStore(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker = circuit.New("resilience",
		circuit.WithFailureThreshold(m.config.FailureStreakThreshold),
	)
	m.lastSuccess = time.Now()
	return m
}

// TrackResult records one operation outcome. A success resets the failure
// streak; crossing the streak threshold or going 30 minutes without any
// success raises an alert.
func (m *Monitor) TrackResult(ctx context.Context, success bool) {
	now := requesttime.Now(ctx)

	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome{at: now, success: success})
	m.pruneOutcomesLocked(now)
	if success {
		m.lastSuccess = now
	}
	sinceSuccess := now.Sub(m.lastSuccess)
	m.mu.Unlock()

	if success {
		m.breaker.RecordSuccess()
		if m.metrics != nil {
			m.metrics.RecordResult("success")
		}
		return
	}

	if m.metrics != nil {
		m.metrics.RecordResult("failure")
	}
	_, change := m.breaker.RecordFailure()
	if change.Opened && !m.alerts.HasActive(AlertConsecutiveFailures) {
		m.raise(ctx, AlertConsecutiveFailures, domain.SeverityHigh,
			fmt.Sprintf("%d consecutive operation failures", m.breaker.FailureCount()), now)
	}
	if sinceSuccess >= systemDownAfter && !m.alerts.HasActive(AlertSystemDown) {
		m.raise(ctx, AlertSystemDown, domain.SeverityCritical,
			fmt.Sprintf("no successful operation for %s", sinceSuccess.Round(time.Minute)), now)
	}
}

// RaiseAlert records an externally sourced alert, such as a high-risk
// security event forwarded by the security monitor.
func (m *Monitor) RaiseAlert(ctx context.Context, alertType AlertType, severity domain.Severity, message string) Alert {
	return m.raise(ctx, alertType, severity, message, requesttime.Now(ctx))
}

func (m *Monitor) raise(ctx context.Context, alertType AlertType, severity domain.Severity, message string, now time.Time) Alert {
	alert := m.alerts.Raise(alertType, severity, message, now)
	if m.metrics != nil {
		m.metrics.RecordAlert(string(alertType))
	}
	audit.Log(ctx, m.logger, m.auditPublisher, "resilience_alert_raised",
		"alert_id", alert.ID.String(),
		"alert_type", string(alertType),
		"severity", string(severity),
		"reason", message,
	)
	return alert
}

// ResolveAlert marks the alert resolved, returning true only on the
// transition. Resolving twice returns true then false.
func (m *Monitor) ResolveAlert(ctx context.Context, id uuid.UUID) bool {
	resolved := m.alerts.Resolve(id, requesttime.Now(ctx))
	if resolved {
		audit.Log(ctx, m.logger, m.auditPublisher, "resilience_alert_resolved",
			"alert_id", id.String(),
		)
	}
	return resolved
}

// ActiveAlerts returns unresolved alerts in creation order.
func (m *Monitor) ActiveAlerts() []Alert {
	return m.alerts.Active()
}

// AllAlerts returns every alert including resolved ones.
func (m *Monitor) AllAlerts() []Alert {
	return m.alerts.All()
}

// HealthCheck derives the current health verdict from active critical
// alerts, the windowed error rate and the failure streak. An error rate at or
// above the threshold raises a high_error_rate alert, deduplicated while one
// is still active.
func (m *Monitor) HealthCheck(ctx context.Context) HealthSummary {
	now := requesttime.Now(ctx)

	m.mu.Lock()
	m.pruneOutcomesLocked(now)
	errorRate := m.errorRateLocked()
	sinceSuccess := now.Sub(m.lastSuccess)
	m.mu.Unlock()

	if errorRate >= m.config.ErrorRateThreshold && !m.alerts.HasActive(AlertHighErrorRate) {
		m.raise(ctx, AlertHighErrorRate, domain.SeverityMedium,
			fmt.Sprintf("error rate %.1f%% over the last %s", errorRate*100, m.config.ErrorRateWindow), now)
	}

	streak := m.breaker.FailureCount()
	active := m.alerts.Active()
	criticals := m.alerts.ActiveBySeverity(domain.SeverityCritical)

	status := StatusHealthy
	switch {
	case len(criticals) > 0:
		status = StatusUnhealthy
	case errorRate >= 2*m.config.ErrorRateThreshold:
		status = StatusUnhealthy
	case errorRate >= m.config.ErrorRateThreshold || m.breaker.IsOpen():
		status = StatusDegraded
	}

	summary := HealthSummary{
		Status:              status,
		ErrorRate:           errorRate,
		ConsecutiveFailures: streak,
		ActiveAlerts:        active,
		Recommendations:     m.recommendations(status, errorRate, streak, criticals),
		CheckedAt:           now,
		SinceLastSuccess:    sinceSuccess,
	}

	if m.metrics != nil {
		m.metrics.SetHealth(string(status), errorRate, streak, len(active))
	}
	return summary
}

// Start runs the periodic health check loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	if m.logger != nil {
		m.logger.InfoContext(ctx, "resilience monitor started",
			"check_interval", m.config.CheckInterval.String(),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := m.HealthCheck(ctx)
			if summary.Status != StatusHealthy && m.logger != nil {
				m.logger.WarnContext(ctx, "health check degraded",
					"status", string(summary.Status),
					"error_rate", summary.ErrorRate,
					"consecutive_failures", summary.ConsecutiveFailures,
					"active_alerts", len(summary.ActiveAlerts),
				)
			}
		}
	}
}

func (m *Monitor) recommendations(status Status, errorRate float64, streak int, criticals []Alert) []string {
	if status == StatusHealthy {
		return nil
	}
	var recs []string
	if len(criticals) > 0 {
		recs = append(recs, "resolve active critical alerts before anything else")
	}
	if errorRate >= m.config.ErrorRateThreshold {
		recs = append(recs, fmt.Sprintf("error rate %.1f%% exceeds the %.1f%% threshold, investigate recent failures", errorRate*100, m.config.ErrorRateThreshold*100))
	}
	if streak >= m.config.FailureStreakThreshold {
		recs = append(recs, "operations are failing consecutively, check downstream connectivity")
	}
	if len(recs) == 0 {
		recs = append(recs, "review recent operation logs")
	}
	return recs
}

// pruneOutcomesLocked drops outcomes older than the error-rate window.
// Caller holds m.mu.
func (m *Monitor) pruneOutcomesLocked(now time.Time) {
	cutoff := now.Add(-m.config.ErrorRateWindow)
	kept := m.outcomes[:0]
	for _, o := range m.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	m.outcomes = kept
}

// errorRateLocked computes the failure fraction over the retained window.
// Caller holds m.mu.
func (m *Monitor) errorRateLocked() float64 {
	if len(m.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, o := range m.outcomes {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(m.outcomes))
}
