package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "terminalpay"

// CronJobMetrics records scheduler cycles and per-job outcomes.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of cron jobs in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		success: jobCounter("job_success_total", "Successful cron job executions.", "job"),
		failure: jobCounter("job_failure_total", "Failed cron job executions.", "job"),
		skipped: jobCounter("job_skipped_total", "Cron ticks skipped, by reason (overlap or locked).", "job", "reason"),
	}
	reg.MustRegister(m.duration, m.success, m.failure, m.skipped)
	return m
}

func jobCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// ObserveRun records one job execution: its duration plus a success or
// failure count depending on err.
func (c *CronJobMetrics) ObserveRun(job string, duration time.Duration, err error) {
	if c == nil || c.duration == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		c.failure.WithLabelValues(job).Inc()
		return
	}
	c.success.WithLabelValues(job).Inc()
}

func (c *CronJobMetrics) IncSkipped(job, reason string) {
	if c == nil || c.skipped == nil {
		return
	}
	c.skipped.WithLabelValues(normalizeLabel(job), normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
