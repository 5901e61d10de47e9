// Package webhook processes inbound webhook deliveries through the
// resilience stack: classified retries, recovery strategies between
// attempts, and outcome tracking for health reporting.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aegis/internal/resilience/monitor"
	"aegis/internal/resilience/retry"
	"aegis/internal/sentinel"
	"aegis/pkg/requesttime"
)

// Delivery is one inbound webhook payload.
type Delivery struct {
	ID         uuid.UUID
	Source     string
	Signature  string
	Payload    []byte
	ReceivedAt time.Time
}

// HandlerFunc consumes a delivery. Failures are classified and retried by
// the processor.
type HandlerFunc func(ctx context.Context, delivery Delivery) error

// Tracker receives per-delivery outcomes. Satisfied by the resilience monitor.
type Tracker interface {
	TrackResult(ctx context.Context, success bool)
}

// Processor dispatches deliveries to per-source handlers under retry.
type Processor struct {
	executor *retry.Executor
	tracker  Tracker
	logger   *slog.Logger
	handlers map[string]HandlerFunc
}

// Option configures a Processor instance.
type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithTracker(t Tracker) Option {
	return func(p *Processor) {
		p.tracker = t
	}
}

// New creates a processor. The executor should carry the external-API retry
// profile; see retry.ExternalAPIConfig.
func New(executor *retry.Executor, opts ...Option) (*Processor, error) {
	if executor == nil {
		return nil, errors.New("retry executor is required")
	}

	p := &Processor{
		executor: executor,
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register binds a handler to a source name. Register everything at startup;
// not safe concurrently with Process.
func (p *Processor) Register(source string, handler HandlerFunc) {
	p.handlers[source] = handler
}

// Process runs the delivery through its source handler with retries, and
// reports the final outcome to the tracker. The last classified error is
// returned on failure.
func (p *Processor) Process(ctx context.Context, delivery Delivery) error {
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = requesttime.Now(ctx)
	}

	handler, ok := p.handlers[delivery.Source]
	if !ok {
		return fmt.Errorf("no handler registered for webhook source %q: %w", delivery.Source, sentinel.ErrNotFound)
	}

	err := p.executor.Do(ctx, "webhook:"+delivery.Source, func(ctx context.Context) error {
		return handler(ctx, delivery)
	})

	if p.tracker != nil {
		p.tracker.TrackResult(ctx, err == nil)
	}

	if err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "webhook delivery failed",
				"delivery_id", delivery.ID.String(),
				"source", delivery.Source,
				"error", err,
			)
		}
		return err
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "webhook delivery processed",
			"delivery_id", delivery.ID.String(),
			"source", delivery.Source,
		)
	}
	return nil
}

// Sources lists registered source names.
func (p *Processor) Sources() []string {
	out := make([]string, 0, len(p.handlers))
	for s := range p.handlers {
		out = append(out, s)
	}
	return out
}

var _ Tracker = (*monitor.Monitor)(nil)
