// Package securitymonitor classifies inbound requests against known-bad
// patterns, scores each finding 0-100, and keeps a bounded window of events
// for the admin metrics surface.
//
// The monitor is advisory by default: only events whose action resolves to
// "blocked" cause the middleware to reject a request. Everything else is
// recorded and, above the alert threshold, raised to the alert callback.
package securitymonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/securitymonitor/metrics"
	"aegis/internal/securitymonitor/models"
	"aegis/pkg/audit"
	"aegis/pkg/domain"
	"aegis/pkg/privacy"
	"aegis/pkg/requesttime"
)

// alertRiskThreshold is the risk score at or above which an event raises the
// alert callback regardless of severity.
const alertRiskThreshold = 70

// EventStore persists the bounded security event window.
type EventStore interface {
	Append(ctx context.Context, event models.SecurityEvent) error
	Recent(ctx context.Context, window time.Duration) ([]models.SecurityEvent, error)
	Len() int
}

// AlertFunc receives events that cross the alert threshold. Called inline
// from LogEvent; implementations must not block.
type AlertFunc func(ctx context.Context, event models.SecurityEvent)

// Monitor is the security monitoring service. Thread-safe for concurrent use.
type Monitor struct {
	store          EventStore
	detectors      []detector
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher audit.Publisher
	onAlert        AlertFunc
	tracer         trace.Tracer
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

func WithAlertFunc(fn AlertFunc) Option {
	return func(m *Monitor) {
		m.onAlert = fn
	}
}

// WithDetectors replaces the default detector set.
func WithDetectors(detectors []detector) Option {
	return func(m *Monitor) {
		m.detectors = detectors
	}
}

// New creates a security monitor over the given event store.
func New(store EventStore, opts ...Option) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}

	m := &Monitor{
		store:     store,
		detectors: defaultDetectors,
		tracer:    otel.Tracer("aegis/securitymonitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AnalyzeRequest runs every detector against the request surface and records
// one event per positive finding. Returns the recorded events so the caller
// can act on the assigned actions.
func (m *Monitor) AnalyzeRequest(ctx context.Context, facts models.RequestFacts) ([]models.SecurityEvent, error) {
	ctx, span := m.tracer.Start(ctx, "securitymonitor.AnalyzeRequest",
		trace.WithAttributes(
			attribute.String("http.method", facts.Method),
			attribute.String("http.path", facts.Path),
		))
	defer span.End()

	evCtx := models.EventContext{
		IP:        facts.IP,
		UserID:    facts.UserID,
		Path:      facts.Path,
		RequestID: facts.RequestID,
	}

	var recorded []models.SecurityEvent
	for _, detect := range m.detectors {
		f, ok := detect(facts)
		if !ok {
			continue
		}
		event, err := m.LogEvent(ctx, f.eventType, f.severity, evCtx, f.description, f.details)
		if err != nil {
			return recorded, fmt.Errorf("record finding %s: %w", f.eventType, err)
		}
		recorded = append(recorded, *event)
	}

	span.SetAttributes(attribute.Int("security.findings", len(recorded)))
	return recorded, nil
}

// LogEvent is the single event-construction entry point. It scores the
// finding, assigns the deterministic action, stamps the correlation ID,
// appends the event and raises the alert callback when warranted.
func (m *Monitor) LogEvent(ctx context.Context, eventType models.EventType, severity domain.Severity, evCtx models.EventContext, description string, details models.EventDetails) (*models.SecurityEvent, error) {
	now := requesttime.Now(ctx)

	event := models.SecurityEvent{
		ID:            uuid.New(),
		Type:          eventType,
		Severity:      severity,
		RiskScore:     riskScore(eventType, severity, details),
		Action:        actionFor(eventType, severity),
		Timestamp:     now,
		IP:            evCtx.IP,
		UserID:        evCtx.UserID,
		Path:          evCtx.Path,
		Description:   description,
		Details:       details,
		CorrelationID: correlationID(eventType, evCtx.IP, now),
	}

	if err := m.store.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("append security event: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordEvent(string(event.Type), string(event.Severity), string(event.Action), event.RiskScore)
		m.metrics.SetRetainedEvents(m.store.Len())
	}

	audit.Log(ctx, m.logger, m.auditPublisher, "security_event_recorded",
		"event_type", string(event.Type),
		"severity", string(event.Severity),
		"risk_score", event.RiskScore,
		"action", string(event.Action),
		"correlation_id", event.CorrelationID,
		"ip", privacy.AnonymizeIP(event.IP),
		"path", event.Path,
	)

	if event.RiskScore >= alertRiskThreshold || event.Severity == domain.SeverityCritical {
		if m.metrics != nil {
			m.metrics.RecordAlert()
		}
		if m.onAlert != nil {
			m.onAlert(ctx, event)
		}
	}

	return &event, nil
}

// SecurityMetrics aggregates the retained events inside the given window for
// the admin read surface.
func (m *Monitor) SecurityMetrics(ctx context.Context, windowMinutes int) (*models.MetricsSummary, error) {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	events, err := m.store.Recent(ctx, time.Duration(windowMinutes)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("load recent events: %w", err)
	}

	summary := &models.MetricsSummary{
		WindowMinutes:    windowMinutes,
		TotalEvents:      len(events),
		CountsByType:     make(map[models.EventType]int),
		CountsBySeverity: make(map[domain.Severity]int),
		CountsByAction:   make(map[models.Action]int),
	}

	ipScores := make(map[string][]int)
	userScores := make(map[string][]int)

	for _, e := range events {
		summary.CountsByType[e.Type]++
		summary.CountsBySeverity[e.Severity]++
		summary.CountsByAction[e.Action]++

		switch {
		case e.RiskScore <= 30:
			summary.RiskHistogram.Low++
		case e.RiskScore <= 70:
			summary.RiskHistogram.Medium++
		default:
			summary.RiskHistogram.High++
		}

		if e.IP != "" {
			ipScores[e.IP] = append(ipScores[e.IP], e.RiskScore)
		}
		if e.UserID != "" {
			userScores[e.UserID] = append(userScores[e.UserID], e.RiskScore)
		}
	}

	summary.TopIPs = topRankings(ipScores, 10)
	summary.TopUsers = topRankings(userScores, 10)
	return summary, nil
}

// topRankings ranks subjects by mean risk score, descending, keeping at most
// limit entries. Ties break on event count, then subject for stable output.
func topRankings(scores map[string][]int, limit int) []models.RiskRanking {
	rankings := make([]models.RiskRanking, 0, len(scores))
	for subject, ss := range scores {
		total := 0
		for _, s := range ss {
			total += s
		}
		rankings = append(rankings, models.RiskRanking{
			Subject:       subject,
			EventCount:    len(ss),
			MeanRiskScore: float64(total) / float64(len(ss)),
		})
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].MeanRiskScore != rankings[j].MeanRiskScore {
			return rankings[i].MeanRiskScore > rankings[j].MeanRiskScore
		}
		if rankings[i].EventCount != rankings[j].EventCount {
			return rankings[i].EventCount > rankings[j].EventCount
		}
		return rankings[i].Subject < rankings[j].Subject
	})

	if len(rankings) > limit {
		rankings = rankings[:limit]
	}
	return rankings
}
