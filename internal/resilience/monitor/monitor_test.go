package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"aegis/pkg/domain"
	"aegis/pkg/requesttime"
)

type MonitorSuite struct {
	suite.Suite
	monitor *Monitor
	base    time.Time
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}

func (s *MonitorSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.monitor = New(WithLogger(logger))
	s.base = time.Now()
}

func (s *MonitorSuite) at(offset time.Duration) context.Context {
	return requesttime.WithTime(context.Background(), s.base.Add(offset))
}

func (s *MonitorSuite) TestHealthyWithNoTraffic() {
	summary := s.monitor.HealthCheck(s.at(0))

	s.Equal(StatusHealthy, summary.Status)
	s.Zero(summary.ErrorRate)
	s.Empty(summary.ActiveAlerts)
	s.Empty(summary.Recommendations)
}

func (s *MonitorSuite) TestConsecutiveFailuresAlert() {
	for i := 0; i < 4; i++ {
		s.monitor.TrackResult(s.at(time.Duration(i)*time.Second), false)
	}
	s.Empty(s.monitor.ActiveAlerts(), "below the streak threshold")

	s.monitor.TrackResult(s.at(5*time.Second), false)

	active := s.monitor.ActiveAlerts()
	s.Require().Len(active, 1)
	s.Equal(AlertConsecutiveFailures, active[0].Type)
	s.Equal(domain.SeverityHigh, active[0].Severity)

	s.Run("a standing condition does not raise duplicates", func() {
		s.monitor.TrackResult(s.at(6*time.Second), false)
		s.Len(s.monitor.ActiveAlerts(), 1)
	})
}

func (s *MonitorSuite) TestSuccessResetsFailureStreak() {
	for i := 0; i < 4; i++ {
		s.monitor.TrackResult(s.at(time.Duration(i)*time.Second), false)
	}
	s.monitor.TrackResult(s.at(4*time.Second), true)
	s.monitor.TrackResult(s.at(5*time.Second), false)

	s.Empty(s.monitor.ActiveAlerts(), "the streak restarts after a success")
}

func (s *MonitorSuite) TestSystemDownAfterThirtyMinutes() {
	s.monitor.TrackResult(s.at(29*time.Minute), false)
	s.Empty(alertsOfType(s.monitor.ActiveAlerts(), AlertSystemDown))

	s.monitor.TrackResult(s.at(31*time.Minute), false)

	down := alertsOfType(s.monitor.ActiveAlerts(), AlertSystemDown)
	s.Require().Len(down, 1)
	s.Equal(domain.SeverityCritical, down[0].Severity)

	s.Run("a critical alert makes the service unhealthy", func() {
		summary := s.monitor.HealthCheck(s.at(31 * time.Minute))
		s.Equal(StatusUnhealthy, summary.Status)
		s.Contains(summary.Recommendations[0], "critical")
	})
}

func (s *MonitorSuite) TestErrorRateDegradesHealth() {
	s.Run("at the threshold the service is degraded", func() {
		for i := 0; i < 19; i++ {
			s.monitor.TrackResult(s.at(time.Duration(i)*time.Second), true)
		}
		s.monitor.TrackResult(s.at(19*time.Second), false)

		summary := s.monitor.HealthCheck(s.at(20 * time.Second))
		s.Equal(StatusDegraded, summary.Status)
		s.InDelta(0.05, summary.ErrorRate, 0.0001)
		s.NotEmpty(summary.Recommendations)

		high := alertsOfType(s.monitor.ActiveAlerts(), AlertHighErrorRate)
		s.Require().Len(high, 1, "crossing the error rate threshold raises an alert")
		s.Equal(domain.SeverityMedium, high[0].Severity)

		s.monitor.HealthCheck(s.at(20 * time.Second))
		s.Len(alertsOfType(s.monitor.ActiveAlerts(), AlertHighErrorRate), 1, "a standing rate does not raise duplicates")
	})

	s.Run("at twice the threshold it is unhealthy", func() {
		s.monitor.TrackResult(s.at(21*time.Second), false)
		s.monitor.TrackResult(s.at(22*time.Second), false)

		summary := s.monitor.HealthCheck(s.at(23 * time.Second))
		s.Equal(StatusUnhealthy, summary.Status)
		s.GreaterOrEqual(summary.ErrorRate, 0.10)
	})

	s.Run("outcomes age out of the window", func() {
		summary := s.monitor.HealthCheck(s.at(10 * time.Minute))
		s.Equal(StatusHealthy, summary.Status)
		s.Zero(summary.ErrorRate)
	})
}

func (s *MonitorSuite) TestResolveAlertIsIdempotent() {
	alert := s.monitor.RaiseAlert(s.at(0), AlertSecurityEvent, domain.SeverityHigh, "injection attempt from 10.0.0.1")

	s.True(s.monitor.ResolveAlert(s.at(time.Minute), alert.ID))
	s.False(s.monitor.ResolveAlert(s.at(2*time.Minute), alert.ID), "the second resolve observes no transition")

	s.Empty(s.monitor.ActiveAlerts())
	all := s.monitor.AllAlerts()
	s.Require().Len(all, 1)
	s.True(all[0].Resolved)
	s.Require().NotNil(all[0].ResolvedAt)
	s.Equal(s.base.Add(time.Minute), *all[0].ResolvedAt, "the first resolve's timestamp sticks")
}

func (s *MonitorSuite) TestResolveUnknownAlert() {
	s.False(s.monitor.ResolveAlert(s.at(0), uuid.New()))
}

func (s *MonitorSuite) TestAlertOrdering() {
	first := s.monitor.RaiseAlert(s.at(0), AlertSecurityEvent, domain.SeverityMedium, "first")
	second := s.monitor.RaiseAlert(s.at(time.Minute), AlertHighErrorRate, domain.SeverityHigh, "second")

	active := s.monitor.ActiveAlerts()
	s.Require().Len(active, 2)
	s.Equal(first.ID, active[0].ID)
	s.Equal(second.ID, active[1].ID)

	s.Require().True(s.monitor.ResolveAlert(s.at(2*time.Minute), first.ID))
	s.Len(s.monitor.ActiveAlerts(), 1)
	s.Len(s.monitor.AllAlerts(), 2, "resolution keeps the record")
}

func alertsOfType(alerts []Alert, alertType AlertType) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

func TestActiveBySeverity(t *testing.T) {
	store := NewAlertStore()
	now := time.Now()

	store.Raise(AlertHighErrorRate, domain.SeverityMedium, "medium", now)
	critical := store.Raise(AlertSystemDown, domain.SeverityCritical, "critical", now)
	store.Raise(AlertConsecutiveFailures, domain.SeverityHigh, "high", now)

	got := store.ActiveBySeverity(domain.SeverityHigh)
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts at or above high, got %d", len(got))
	}
	if got[0].ID != critical.ID {
		t.Fatalf("expected the critical alert first, got %s", got[0].Type)
	}
}
