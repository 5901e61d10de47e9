// Package cleanup runs the periodic sweep that prunes expired window entries
// and stale attempt histories from in-memory stores.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"aegis/internal/ratelimit/metrics"
)

// Sweeper prunes expired state and reports how many entries were removed.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

// Target pairs a sweeper with a name for logging.
type Target struct {
	Name    string
	Sweeper Sweeper
}

// Result contains the outcome of a single cleanup run.
type Result struct {
	Removed  map[string]int
	Duration time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service sweeps the registered targets on a fixed interval.
type Service struct {
	targets  []Target
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(targets []Target, opts ...Option) *Service {
	service := &Service{
		targets:  targets,
		logger:   slog.Default(),
		interval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Start runs the sweep loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := time.Now()
			res, err := s.RunOnce(ctx)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Error("cleanup_sweep_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				if s.metrics != nil {
					s.metrics.SweepRunsTotal.WithLabelValues("error").Inc()
					s.metrics.SweepDurationSeconds.Observe(duration.Seconds())
				}
				continue
			}

			res.Duration = duration

			total := 0
			for _, n := range res.Removed {
				total += n
			}
			s.logger.Info("cleanup_sweep_completed",
				"removed", total,
				"duration_ms", duration.Milliseconds(),
			)

			if s.metrics != nil {
				s.metrics.SweepRemovedTotal.Add(float64(total))
				s.metrics.SweepRunsTotal.WithLabelValues("success").Inc()
				s.metrics.SweepDurationSeconds.Observe(duration.Seconds())
			}

		case <-ctx.Done():
			s.logger.Info("cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep across all targets.
// The first sweeper error aborts the run; logging is handled by the caller (Start).
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	res := &Result{Removed: make(map[string]int, len(s.targets))}
	for _, target := range s.targets {
		removed, err := target.Sweeper.Sweep(ctx)
		if err != nil {
			return nil, err
		}
		res.Removed[target.Name] = removed
	}
	return res, nil
}
