package securitymonitor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aegis/internal/securitymonitor/models"
	"aegis/internal/securitymonitor/store/events"
	"aegis/pkg/domain"
	"aegis/pkg/requesttime"
)

type MonitorSuite struct {
	suite.Suite
	monitor *Monitor
	store   *events.InMemoryStore
	alerts  []models.SecurityEvent
	base    time.Time
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

func (s *MonitorSuite) SetupTest() {
	s.store = events.New(0, 0)
	s.alerts = nil
	s.base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	s.monitor, err = New(s.store,
		WithLogger(logger),
		WithAlertFunc(func(_ context.Context, event models.SecurityEvent) {
			s.alerts = append(s.alerts, event)
		}),
	)
	s.Require().NoError(err)
}

func (s *MonitorSuite) ctx() context.Context {
	return requesttime.WithTime(context.Background(), s.base)
}

func (s *MonitorSuite) TestLogEventPopulatesDerivedFields() {
	event, err := s.monitor.LogEvent(s.ctx(), models.EventAuthFailure, domain.SeverityMedium,
		models.EventContext{IP: "10.0.0.1", Path: "/auth/check"},
		"failed login", models.EventDetails{})
	s.Require().NoError(err)

	s.NotEqual("", event.ID.String())
	s.Equal(30, event.RiskScore)
	s.Equal(models.ActionLogged, event.Action)
	s.Equal(s.base, event.Timestamp)
	s.NotEmpty(event.CorrelationID)
	s.Equal(1, s.store.Len())
}

func (s *MonitorSuite) TestAlertCallback() {
	s.Run("low risk events do not alert", func() {
		_, err := s.monitor.LogEvent(s.ctx(), models.EventEndpointProbe, domain.SeverityLow,
			models.EventContext{IP: "10.0.0.1"}, "probe", models.EventDetails{})
		s.Require().NoError(err)
		s.Empty(s.alerts)
	})

	s.Run("risk at or above seventy alerts", func() {
		_, err := s.monitor.LogEvent(s.ctx(), models.EventBruteForceAttempt, domain.SeverityHigh,
			models.EventContext{IP: "10.0.0.1"}, "hammering", models.EventDetails{})
		s.Require().NoError(err)
		s.Require().Len(s.alerts, 1)
		s.GreaterOrEqual(s.alerts[0].RiskScore, 70)
	})

	s.Run("critical severity alerts regardless of score", func() {
		before := len(s.alerts)
		_, err := s.monitor.LogEvent(s.ctx(), models.EventEndpointProbe, domain.SeverityCritical,
			models.EventContext{IP: "10.0.0.1"}, "probe", models.EventDetails{})
		s.Require().NoError(err)
		s.Len(s.alerts, before+1)
	})
}

func (s *MonitorSuite) TestAnalyzeRequest() {
	s.Run("clean request yields no events", func() {
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method:    http.MethodGet,
			Path:      "/auth/check",
			UserAgent: "Mozilla/5.0",
			IP:        "10.0.0.1",
		})
		s.Require().NoError(err)
		s.Empty(recorded)
	})

	s.Run("scanner user agent is flagged", func() {
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method:    http.MethodGet,
			Path:      "/auth/check",
			UserAgent: "sqlmap/1.7",
			IP:        "10.0.0.2",
		})
		s.Require().NoError(err)
		s.Require().Len(recorded, 1)
		s.Equal(models.EventMaliciousUserAgent, recorded[0].Type)
		s.Equal(models.ActionBlocked, recorded[0].Action)
	})

	s.Run("injection marker in the query is flagged", func() {
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method: http.MethodGet,
			Path:   "/api/items",
			Query:  "id=1+union+select+password",
			IP:     "10.0.0.3",
		})
		s.Require().NoError(err)
		s.Require().Len(recorded, 1)
		s.Equal(models.EventInjectionAttempt, recorded[0].Type)
	})

	s.Run("sensitive path probe is flagged", func() {
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method: http.MethodGet,
			Path:   "/.env",
			IP:     "10.0.0.4",
		})
		s.Require().NoError(err)
		s.Require().Len(recorded, 1)
		s.Equal(models.EventSuspiciousPath, recorded[0].Type)
	})

	s.Run("spoofable headers are flagged", func() {
		header := http.Header{}
		header.Set("X-Original-URL", "/admin")
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method: http.MethodGet,
			Path:   "/api/items",
			Header: header,
			IP:     "10.0.0.5",
		})
		s.Require().NoError(err)
		s.Require().Len(recorded, 1)
		s.Equal(models.EventSpoofedHeaders, recorded[0].Type)
	})

	s.Run("multiple findings each record an event", func() {
		recorded, err := s.monitor.AnalyzeRequest(s.ctx(), models.RequestFacts{
			Method:    http.MethodGet,
			Path:      "/.git/config",
			Query:     "redirect=javascript:alert(1)",
			UserAgent: "nikto/2.5",
			IP:        "10.0.0.6",
		})
		s.Require().NoError(err)
		s.Len(recorded, 3)
	})
}

func (s *MonitorSuite) TestSecurityMetrics() {
	ctx := s.ctx()

	for i := 0; i < 3; i++ {
		_, err := s.monitor.LogEvent(ctx, models.EventAuthFailure, domain.SeverityMedium,
			models.EventContext{IP: "10.0.0.1", UserID: "u1"}, "failed login", models.EventDetails{})
		s.Require().NoError(err)
	}
	_, err := s.monitor.LogEvent(ctx, models.EventBruteForceAttempt, domain.SeverityHigh,
		models.EventContext{IP: "10.0.0.2", UserID: "u2"}, "hammering", models.EventDetails{})
	s.Require().NoError(err)

	// An event outside the window must not count.
	old := requesttime.WithTime(context.Background(), s.base.Add(-2*time.Hour))
	_, err = s.monitor.LogEvent(old, models.EventEndpointProbe, domain.SeverityLow,
		models.EventContext{IP: "10.0.0.3"}, "probe", models.EventDetails{})
	s.Require().NoError(err)

	summary, err := s.monitor.SecurityMetrics(ctx, 60)
	s.Require().NoError(err)

	s.Equal(4, summary.TotalEvents)
	s.Equal(3, summary.CountsByType[models.EventAuthFailure])
	s.Equal(1, summary.CountsByType[models.EventBruteForceAttempt])
	s.Equal(3, summary.CountsBySeverity[domain.SeverityMedium])
	s.Equal(4, summary.RiskHistogram.Low+summary.RiskHistogram.Medium+summary.RiskHistogram.High)

	s.Run("top IPs rank by mean risk score", func() {
		s.Require().NotEmpty(summary.TopIPs)
		s.Equal("10.0.0.2", summary.TopIPs[0].Subject, "brute force scores above auth failures")
	})

	s.Run("top users are tracked separately", func() {
		s.Require().Len(summary.TopUsers, 2)
		s.Equal("u2", summary.TopUsers[0].Subject)
	})
}

func (s *MonitorSuite) TestRingEviction() {
	store := events.New(3, events.DefaultRetention)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon, err := New(store, WithLogger(logger))
	s.Require().NoError(err)

	for i := 0; i < 5; i++ {
		_, err := mon.LogEvent(s.ctx(), models.EventEndpointProbe, domain.SeverityInfo,
			models.EventContext{IP: "10.0.0.1"}, "probe", models.EventDetails{})
		s.Require().NoError(err)
	}

	s.Equal(3, store.Len(), "oldest events evict past capacity")
}

func (s *MonitorSuite) TestStoreSweep() {
	ctx := s.ctx()
	old := requesttime.WithTime(context.Background(), s.base.Add(-8*24*time.Hour))

	_, err := s.monitor.LogEvent(old, models.EventEndpointProbe, domain.SeverityInfo,
		models.EventContext{IP: "10.0.0.1"}, "probe", models.EventDetails{})
	s.Require().NoError(err)
	_, err = s.monitor.LogEvent(ctx, models.EventEndpointProbe, domain.SeverityInfo,
		models.EventContext{IP: "10.0.0.1"}, "probe", models.EventDetails{})
	s.Require().NoError(err)

	removed, err := s.store.Sweep(ctx)
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Equal(1, s.store.Len())
}
