package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal           *prometheus.CounterVec
	AllowlistBypassTotal  *prometheus.CounterVec
	ThrottleRejectedTotal prometheus.Counter
	FailOpenTotal         prometheus.Counter
	SweepRemovedTotal     prometheus.Counter
	SweepRunsTotal        *prometheus.CounterVec
	SweepDurationSeconds  prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_checks_total",
			Help: "Total number of rate limit checks by endpoint class and outcome",
		}, []string{"class", "outcome"}),
		AllowlistBypassTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_allowlist_bypass_total",
			Help: "Total number of rate limit checks bypassed via allowlist",
		}, []string{"class"}),
		ThrottleRejectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_ratelimit_global_throttle_rejected_total",
			Help: "Total number of requests rejected by the global throttle",
		}),
		FailOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_ratelimit_fail_open_total",
			Help: "Total number of checks allowed because the window store errored",
		}),
		SweepRemovedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_ratelimit_sweep_removed_total",
			Help: "Total number of expired window entries removed by cleanup sweeps",
		}),
		SweepRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_ratelimit_sweep_runs_total",
			Help: "Total number of cleanup sweep runs",
		}, []string{"status"}),
		SweepDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "aegis_ratelimit_sweep_duration_seconds",
			Help: "Duration of cleanup sweep runs in seconds",
		}),
	}
}

func (m *Metrics) RecordCheck(class, outcome string) {
	m.ChecksTotal.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) RecordAllowlistBypass(class string) {
	m.AllowlistBypassTotal.WithLabelValues(class).Inc()
}

func (m *Metrics) RecordThrottleRejected() {
	m.ThrottleRejectedTotal.Inc()
}

func (m *Metrics) RecordFailOpen() {
	m.FailOpenTotal.Inc()
}
