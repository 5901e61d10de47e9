package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ResultsTotal        *prometheus.CounterVec
	AlertsTotal         *prometheus.CounterVec
	HealthStatus        *prometheus.GaugeVec
	ErrorRate           prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
	ActiveAlerts        prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		ResultsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_resilience_results_total",
			Help: "Total number of tracked operation outcomes",
		}, []string{"outcome"}),
		AlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_resilience_alerts_total",
			Help: "Total number of alerts raised by type",
		}, []string{"type"}),
		HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_resilience_health_status",
			Help: "Current health status (1 for the active status, 0 otherwise)",
		}, []string{"status"}),
		ErrorRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_resilience_error_rate",
			Help: "Windowed failure fraction of tracked operations",
		}),
		ConsecutiveFailures: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_resilience_consecutive_failures",
			Help: "Current consecutive failure streak",
		}),
		ActiveAlerts: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_resilience_active_alerts",
			Help: "Number of unresolved alerts",
		}),
	}
}

func (m *Metrics) RecordResult(outcome string) {
	m.ResultsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAlert(alertType string) {
	m.AlertsTotal.WithLabelValues(alertType).Inc()
}

func (m *Metrics) SetHealth(status string, errorRate float64, streak, activeAlerts int) {
	for _, s := range []string{"healthy", "degraded", "unhealthy"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.HealthStatus.WithLabelValues(s).Set(v)
	}
	m.ErrorRate.Set(errorRate)
	m.ConsecutiveFailures.Set(float64(streak))
	m.ActiveAlerts.Set(float64(activeAlerts))
}
