package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	AlertsRaisedTotal prometheus.Counter
	RiskScore         prometheus.Histogram
	RetainedEvents    prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_security_events_total",
			Help: "Total number of security events by type, severity and action",
		}, []string{"type", "severity", "action"}),
		AlertsRaisedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aegis_security_alerts_raised_total",
			Help: "Total number of high-risk security alerts raised",
		}),
		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_security_event_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		RetainedEvents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_security_events_retained",
			Help: "Number of security events currently retained in the ring",
		}),
	}
}

func (m *Metrics) RecordEvent(eventType, severity, action string, riskScore int) {
	m.EventsTotal.WithLabelValues(eventType, severity, action).Inc()
	m.RiskScore.Observe(float64(riskScore))
}

func (m *Metrics) RecordAlert() {
	m.AlertsRaisedTotal.Inc()
}

func (m *Metrics) SetRetainedEvents(n int) {
	m.RetainedEvents.Set(float64(n))
}
