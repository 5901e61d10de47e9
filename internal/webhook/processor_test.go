package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/internal/resilience/retry"
	"aegis/internal/sentinel"
)

type fakeTracker struct {
	outcomes []bool
}

func (f *fakeTracker) TrackResult(_ context.Context, success bool) {
	f.outcomes = append(f.outcomes, success)
}

type ProcessorSuite struct {
	suite.Suite
	processor *Processor
	tracker   *fakeTracker
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := retry.New(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	},
		retry.WithLogger(logger),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	s.tracker = &fakeTracker{}
	var err error
	s.processor, err = New(executor, WithLogger(logger), WithTracker(s.tracker))
	s.Require().NoError(err)
}

func (s *ProcessorSuite) TestNewRequiresExecutor() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ProcessorSuite) TestUnknownSource() {
	err := s.processor.Process(context.Background(), Delivery{Source: "stripe"})

	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Contains(err.Error(), "no handler registered")
	s.Empty(s.tracker.outcomes, "nothing to track when dispatch never happened")
}

func (s *ProcessorSuite) TestSuccessfulDelivery() {
	var got Delivery
	s.processor.Register("events", func(_ context.Context, delivery Delivery) error {
		got = delivery
		return nil
	})

	err := s.processor.Process(context.Background(), Delivery{
		Source:  "events",
		Payload: []byte(`{"kind":"ping"}`),
	})

	s.NoError(err)
	s.NotEqual(uuid.Nil, got.ID, "a missing delivery id is filled in")
	s.False(got.ReceivedAt.IsZero())
	s.Equal([]bool{true}, s.tracker.outcomes)
}

func (s *ProcessorSuite) TestTransientFailureRetries() {
	calls := 0
	s.processor.Register("events", func(context.Context, Delivery) error {
		calls++
		if calls < 3 {
			return errors.New("connection timeout")
		}
		return nil
	})

	err := s.processor.Process(context.Background(), Delivery{Source: "events"})

	s.NoError(err)
	s.Equal(3, calls)
	s.Equal([]bool{true}, s.tracker.outcomes, "only the final outcome is tracked")
}

func (s *ProcessorSuite) TestExhaustedRetriesTrackFailure() {
	s.processor.Register("events", func(context.Context, Delivery) error {
		return errors.New("connection refused")
	})

	err := s.processor.Process(context.Background(), Delivery{Source: "events"})

	s.Error(err)
	s.Equal([]bool{false}, s.tracker.outcomes)
}

func (s *ProcessorSuite) TestSources() {
	s.processor.Register("events", func(context.Context, Delivery) error { return nil })
	s.processor.Register("billing", func(context.Context, Delivery) error { return nil })

	s.ElementsMatch([]string{"events", "billing"}, s.processor.Sources())
}
