package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/domain"
)

// AlertType names the condition that raised an alert.
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertSystemDown          AlertType = "system_down"
	AlertHighErrorRate       AlertType = "high_error_rate"
	AlertSecurityEvent       AlertType = "security_event"
)

// Alert is one raised operational condition. Alerts are append-only in
// creation order; resolution flips a flag, it never removes the record.
type Alert struct {
	ID         uuid.UUID       `json:"id"`
	Type       AlertType       `json:"type"`
	Severity   domain.Severity `json:"severity"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
	Resolved   bool            `json:"resolved"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// AlertStore keeps alerts in memory for the lifetime of the process.
type AlertStore struct {
	mu     sync.RWMutex
	alerts map[uuid.UUID]*Alert
	order  []uuid.UUID
}

func NewAlertStore() *AlertStore {
	return &AlertStore{
		alerts: make(map[uuid.UUID]*Alert),
	}
}

// Raise records a new alert and returns it.
func (s *AlertStore) Raise(alertType AlertType, severity domain.Severity, message string, now time.Time) Alert {
	alert := Alert{
		ID:        uuid.New(),
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = &alert
	s.order = append(s.order, alert.ID)
	return alert
}

// Resolve marks the alert resolved. Returns true on the transition and false
// when the alert is unknown or already resolved, so exactly one caller
// observes the flip.
func (s *AlertStore) Resolve(id uuid.UUID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok || alert.Resolved {
		return false
	}
	alert.Resolved = true
	alert.ResolvedAt = &now
	return true
}

// Active returns unresolved alerts in creation order.
func (s *AlertStore) Active() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0, len(s.order))
	for _, id := range s.order {
		if a := s.alerts[id]; !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// All returns every alert, resolved included, in creation order.
func (s *AlertStore) All() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.alerts[id])
	}
	return out
}

// HasActive reports whether any unresolved alert of the given type exists.
// Used to avoid raising duplicate alerts for a still-standing condition.
func (s *AlertStore) HasActive(alertType AlertType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if a := s.alerts[id]; !a.Resolved && a.Type == alertType {
			return true
		}
	}
	return false
}

// ActiveBySeverity returns unresolved alerts at or above the given severity,
// most severe first.
func (s *AlertStore) ActiveBySeverity(min domain.Severity) []Alert {
	active := s.Active()
	out := active[:0]
	for _, a := range active {
		if a.Severity.Rank() >= min.Rank() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}
