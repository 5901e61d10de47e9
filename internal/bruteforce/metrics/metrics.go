package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	FailuresRecordedTotal prometheus.Counter
	LockoutsTotal         prometheus.Counter
	ChecksTotal           *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		FailuresRecordedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_bruteforce_failures_recorded_total",
			Help: "Total number of failed login attempts recorded",
		}),
		LockoutsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_bruteforce_lockouts_total",
			Help: "Total number of manual account lockouts",
		}),
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_bruteforce_checks_total",
			Help: "Total number of login attempt checks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordFailure() {
	m.FailuresRecordedTotal.Inc()
}

func (m *Metrics) RecordLockout() {
	m.LockoutsTotal.Inc()
}

func (m *Metrics) RecordCheck(outcome string) {
	m.ChecksTotal.WithLabelValues(outcome).Inc()
}
