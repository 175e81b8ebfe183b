package alerts

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. A nil *Metrics is a no-op.
type Metrics struct {
	evaluations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	created     *prometheus.CounterVec
	resolved    *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg. A nil registerer
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_alert_evaluations_total",
			Help: "Alert evaluations by subject kind and reconcile mode.",
		}, []string{"kind", "mode"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_alert_evaluation_failures_total",
			Help: "Alert evaluations that returned an error.",
		}, []string{"kind"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_alerts_created_total",
			Help: "Alerts inserted by the rule engine.",
		}, []string{"type"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facilityops_alerts_resolved_total",
			Help: "Alerts resolved by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.evaluations, m.failures, m.created, m.resolved)
	}
	return m
}

func (m *Metrics) evaluated(kind SubjectKind, mode ReconcileMode) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(string(kind), string(mode)).Inc()
}

func (m *Metrics) failed(kind SubjectKind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) createdAlert(t Type) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) resolvedAlerts(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resolved.WithLabelValues(reason).Add(float64(n))
}
