// Package publisher provides a fire-and-forget slog-backed audit publisher.
//
// Events are emitted as structured log lines and counted in prometheus.
// There is no retry and no persistence; deployments that need a durable audit
// trail swap in their own audit.Publisher implementation.
package publisher

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aegis/pkg/audit"
)

var eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aegis_audit_events_emitted_total",
	Help: "Total number of audit events emitted, by action",
}, []string{"action"})

// Ops emits audit events to the structured logger with fire-and-forget semantics.
type Ops struct {
	logger *slog.Logger
}

// NewOps creates a slog-backed audit publisher.
func NewOps(logger *slog.Logger) *Ops {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ops{logger: logger}
}

// Emit implements audit.Publisher.
func (p *Ops) Emit(ctx context.Context, event audit.Event) error {
	eventsEmitted.WithLabelValues(event.Action).Inc()
	p.logger.InfoContext(ctx, "audit_event",
		"action", event.Action,
		"subject", event.Subject,
		"user_id", event.UserID,
		"decision", event.Decision,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"timestamp", event.Timestamp,
	)
	return nil
}
