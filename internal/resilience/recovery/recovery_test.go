package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aegis/internal/resilience/retry"
)

type fakeStrategy struct {
	name      string
	canHandle bool
	recovers  bool
	panics    bool
	calls     *[]string
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) CanRecover(error) bool { return f.canHandle }

func (f *fakeStrategy) Recover(context.Context) bool {
	*f.calls = append(*f.calls, f.name)
	if f.panics {
		panic("strategy blew up")
	}
	return f.recovers
}

type ChainSuite struct {
	suite.Suite
	logger *slog.Logger
	calls  []string
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.calls = nil
}

func (s *ChainSuite) strategy(name string, canHandle, recovers, panics bool) *fakeStrategy {
	return &fakeStrategy{name: name, canHandle: canHandle, recovers: recovers, panics: panics, calls: &s.calls}
}

func (s *ChainSuite) TestRunsInRegistrationOrder() {
	chain := NewChain(s.logger,
		s.strategy("first", true, false, false),
		s.strategy("second", true, false, false),
		s.strategy("third", true, true, false),
	)

	recovered := chain.AttemptRecovery(context.Background(), errors.New("boom"))

	s.True(recovered)
	s.Equal([]string{"first", "second", "third"}, s.calls)
}

func (s *ChainSuite) TestShortCircuitsOnFirstRecovery() {
	chain := NewChain(s.logger,
		s.strategy("first", true, true, false),
		s.strategy("second", true, true, false),
	)

	recovered := chain.AttemptRecovery(context.Background(), errors.New("boom"))

	s.True(recovered)
	s.Equal([]string{"first"}, s.calls)
}

func (s *ChainSuite) TestSkipsInapplicableStrategies() {
	chain := NewChain(s.logger,
		s.strategy("inapplicable", false, true, false),
		s.strategy("applicable", true, true, false),
	)

	recovered := chain.AttemptRecovery(context.Background(), errors.New("boom"))

	s.True(recovered)
	s.Equal([]string{"applicable"}, s.calls)
}

func (s *ChainSuite) TestPanickingStrategyCountsAsFailed() {
	chain := NewChain(s.logger,
		s.strategy("explosive", true, true, true),
		s.strategy("steady", true, true, false),
	)

	recovered := chain.AttemptRecovery(context.Background(), errors.New("boom"))

	s.True(recovered, "the chain survives a panicking strategy")
	s.Equal([]string{"explosive", "steady"}, s.calls)
}

func (s *ChainSuite) TestAllFailingYieldsFalse() {
	chain := NewChain(s.logger,
		s.strategy("first", true, false, false),
		s.strategy("second", true, false, false),
	)

	s.False(chain.AttemptRecovery(context.Background(), errors.New("boom")))
}

func (s *ChainSuite) TestEmptyChain() {
	chain := NewChain(s.logger)
	s.False(chain.AttemptRecovery(context.Background(), errors.New("boom")))
}

type BuiltinSuite struct {
	suite.Suite
}

func TestBuiltinSuite(t *testing.T) {
	suite.Run(t, new(BuiltinSuite))
}

func (s *BuiltinSuite) TestAcknowledgeDuplicate() {
	dup := AcknowledgeDuplicate{}

	s.True(dup.CanRecover(errors.New(`duplicate key value violates unique constraint "users_pkey"`)))
	s.False(dup.CanRecover(errors.New("connection timeout")))
	s.False(dup.CanRecover(nil))
	s.True(dup.Recover(context.Background()), "the caller converts the create into an update")
}

func (s *BuiltinSuite) TestBackoffWait() {
	wait := BackoffWait{Cooldown: time.Millisecond}

	s.True(wait.CanRecover(errors.New("429 too many requests")))
	s.False(wait.CanRecover(errors.New("validation failed")))
	s.True(wait.Recover(context.Background()))

	s.Run("cancelled context aborts the cooldown", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := BackoffWait{Cooldown: time.Minute}
		s.False(slow.Recover(ctx))
	})
}

type fakeProber struct {
	err error
}

func (f fakeProber) Ping(context.Context) error { return f.err }

func (s *BuiltinSuite) TestReconnect() {
	s.Run("applies to network and database failures", func() {
		r := NewReconnect(fakeProber{}, time.Second)
		s.True(r.CanRecover(errors.New("connection refused")))
		s.True(r.CanRecover(retry.Classified(retry.CategoryDatabase, errors.New("pool closed"))))
		s.False(r.CanRecover(errors.New("validation failed")))
	})

	s.Run("recovery follows the probe result", func() {
		s.True(NewReconnect(fakeProber{}, time.Second).Recover(context.Background()))
		s.False(NewReconnect(fakeProber{err: errors.New("still down")}, time.Second).Recover(context.Background()))
	})
}

func (s *BuiltinSuite) TestReleaseResources() {
	released := false
	rel := ReleaseResources{Release: func(context.Context) error {
		released = true
		return nil
	}}

	s.True(rel.CanRecover(errors.New("connection pool exhausted")))
	s.False(rel.CanRecover(errors.New("validation failed")))
	s.True(rel.Recover(context.Background()))
	s.True(released)
}
