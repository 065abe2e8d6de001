package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Publisher outcomes. Dead-lettered rows also carry the dlq reason.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

type OutboxMetrics struct {
	events  *prometheus.CounterVec
	batches prometheus.Histogram
}

// NewOutboxMetrics registers publisher collectors on reg. A nil reg returns a
// no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox rows handled by the publisher, by event type and outcome.",
		}, []string{"event_type", "outcome", "reason"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "outbox",
			Name:      "batch_size",
			Help:      "Rows claimed per publisher batch.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	reg.MustRegister(m.events, m.batches)
	return m
}

func (m *OutboxMetrics) ObserveBatch(rows int) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(float64(rows))
}

// IncEvent counts one row. reason is empty unless the row was dead-lettered.
func (m *OutboxMetrics) IncEvent(eventType, outcome, reason string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome, reason).Inc()
}
