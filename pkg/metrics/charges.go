package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ChargeMetrics counts charge lifecycle activity.
type ChargeMetrics struct {
	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	polls       *prometheus.CounterVec
}

// NewChargeMetrics registers the charge metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewChargeMetrics(reg prometheus.Registerer) *ChargeMetrics {
	if reg == nil {
		return &ChargeMetrics{}
	}
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charges_created_total",
		Help:      "Charges created against terminals, by outcome of the gateway call.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charge_transitions_total",
		Help:      "Charge status transitions, by target status and source.",
	}, []string{"status", "source"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charge_webhooks_total",
		Help:      "Gateway webhooks received, by result.",
	}, []string{"result"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charge_polls_total",
		Help:      "Gateway status polls, by result.",
	}, []string{"result"})
	reg.MustRegister(created, transitions, webhooks, polls)
	return &ChargeMetrics{
		created:     created,
		transitions: transitions,
		webhooks:    webhooks,
		polls:       polls,
	}
}

func (m *ChargeMetrics) IncCreated(outcome string) {
	if m == nil || m.created == nil {
		return
	}
	m.created.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncTransition records a status change; source is webhook, poll, timeout or create.
func (m *ChargeMetrics) IncTransition(status, source string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status), normalizeLabel(source)).Inc()
}

func (m *ChargeMetrics) IncWebhook(result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *ChargeMetrics) IncPoll(result string) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(normalizeLabel(result)).Inc()
}
