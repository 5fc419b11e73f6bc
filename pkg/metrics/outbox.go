package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics exposes the dead-letter backlog and retention activity.
type OutboxMetrics struct {
	deadLetters *prometheus.GaugeVec
	pruned      *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		deadLetters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_dead_letters",
			Help:      "Dead-lettered outbox rows currently stored, by reason.",
		}, []string{"reason"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_rows_pruned_total",
			Help:      "Rows removed by the outbox retention job, by table.",
		}, []string{"table"}),
	}
	reg.MustRegister(m.deadLetters, m.pruned)
	return m
}

// SetDeadLetters replaces the gauge with counts. Reasons missing from counts
// keep their last value, so callers pass every known reason.
func (m *OutboxMetrics) SetDeadLetters(counts map[string]int64) {
	if m == nil || m.deadLetters == nil {
		return
	}
	for reason, n := range counts {
		m.deadLetters.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
	}
}

func (m *OutboxMetrics) AddPruned(table string, rows int64) {
	if m == nil || m.pruned == nil || rows <= 0 {
		return
	}
	m.pruned.WithLabelValues(normalizeLabel(table)).Add(float64(rows))
}
