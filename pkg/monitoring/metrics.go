// Package monitoring exposes the service's Prometheus metrics.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	questionsTotal  *prometheus.CounterVec
	questionLatency *prometheus.HistogramVec
	ingestedChunks  prometheus.Counter
	ingestErrors    prometheus.Counter
	webhookMessages *prometheus.CounterVec
}

// NewMetrics creates and registers the service collectors on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		questionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policy_assistant",
			Name:      "questions_total",
			Help:      "Questions processed, labeled by outcome.",
		}, []string{"outcome"}),
		questionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "policy_assistant",
			Name:      "question_duration_seconds",
			Help:      "End-to-end question answering latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ingestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "policy_assistant",
			Name:      "ingested_chunks_total",
			Help:      "Chunks upserted into the vector index.",
		}),
		ingestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "policy_assistant",
			Name:      "ingest_errors_total",
			Help:      "Per-file ingestion failures.",
		}),
		webhookMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "policy_assistant",
			Name:      "webhook_messages_total",
			Help:      "Inbound webhook messages, labeled by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.questionsTotal,
		m.questionLatency,
		m.ingestedChunks,
		m.ingestErrors,
		m.webhookMessages,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordQuestion records one answered or failed question.
func (m *Metrics) RecordQuestion(outcome string, took time.Duration) {
	m.questionsTotal.WithLabelValues(outcome).Inc()
	m.questionLatency.WithLabelValues(outcome).Observe(took.Seconds())
}

// RecordIngest records a batch ingestion result.
func (m *Metrics) RecordIngest(upserted, errors int) {
	m.ingestedChunks.Add(float64(upserted))
	m.ingestErrors.Add(float64(errors))
}

// RecordWebhookMessage records one inbound channel message.
func (m *Metrics) RecordWebhookMessage(outcome string) {
	m.webhookMessages.WithLabelValues(outcome).Inc()
}
