// Package metrics exposes Prometheus collectors for the notification cycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedpush"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sent          *prometheus.CounterVec
	failed        *prometheus.CounterVec
	invalid       *prometheus.CounterVec
	retries       *prometheus.CounterVec
	feedOutcomes  *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_sent_total",
			Help:      "Tokens the gateway accepted, by category.",
		}, []string{"category"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failed_total",
			Help:      "Tokens that could not be delivered, by category.",
		}, []string{"category"}),
		invalid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_invalid_tokens_total",
			Help:      "Tokens classified as permanently invalid, by category.",
		}, []string{"category"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_batch_retries_total",
			Help:      "Batch retry attempts, by category.",
		}, []string{"category"}),
		feedOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_outcomes_total",
			Help:      "Per-feed cycle outcomes.",
		}, []string{"feed", "outcome"}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed cycles by result.",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one notification cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Delivery records the outcome of one dispatch.
func (m *Metrics) Delivery(category string, sent, failed, invalid int) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(category).Add(float64(sent))
	m.failed.WithLabelValues(category).Add(float64(failed))
	m.invalid.WithLabelValues(category).Add(float64(invalid))
}

// Retry records one batch retry.
func (m *Metrics) Retry(category string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(category).Inc()
}

// FeedOutcome records how a feed's cycle ended.
func (m *Metrics) FeedOutcome(feed, outcome string) {
	if m == nil {
		return
	}
	m.feedOutcomes.WithLabelValues(feed, outcome).Inc()
}

// Cycle records a finished cycle.
func (m *Metrics) Cycle(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}
