package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments published by the RAG core.
// A nil *Metrics is valid and records nothing, so components never need
// to guard their instrumentation calls.
type Metrics struct {
	queriesTotal  *prometheus.CounterVec
	queryDuration prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	ingestTotal   *prometheus.CounterVec
	rateLimited   prometheus.Counter
	cacheHitRatio *prometheus.GaugeVec
}

// NewMetrics creates and registers the core instruments.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onboarding_rag",
			Name:      "queries_total",
			Help:      "Processed queries by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "onboarding_rag",
			Name:      "query_duration_seconds",
			Help:      "End-to-end query workflow latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "onboarding_rag",
			Name:      "stage_duration_seconds",
			Help:      "Per-stage workflow latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onboarding_rag",
			Name:      "ingest_total",
			Help:      "Ingested documents by status.",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "onboarding_rag",
			Name:      "rate_limited_total",
			Help:      "Queries rejected by the rate limiter.",
		}),
		cacheHitRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "onboarding_rag",
			Name:      "cache_hit_ratio",
			Help:      "Cache hit ratio per layer.",
		}, []string{"layer"}),
	}

	registerer.MustRegister(
		m.queriesTotal,
		m.queryDuration,
		m.stageDuration,
		m.ingestTotal,
		m.rateLimited,
		m.cacheHitRatio,
	)
	return m
}

// ObserveQuery records one completed query workflow.
func (m *Metrics) ObserveQuery(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(took.Seconds())
}

// ObserveStage records one workflow stage duration.
func (m *Metrics) ObserveStage(stage Stage, took time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage.String()).Observe(took.Seconds())
}

// ObserveIngest records one ingestion outcome.
func (m *Metrics) ObserveIngest(status IngestStatus) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(string(status)).Inc()
}

// ObserveRateLimited records one rejected query.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// SetCacheHitRatio publishes the hit ratio of one cache layer.
func (m *Metrics) SetCacheHitRatio(layer string, ratio float64) {
	if m == nil {
		return
	}
	m.cacheHitRatio.WithLabelValues(layer).Set(ratio)
}
