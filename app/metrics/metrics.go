package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "concierge"

type Metrics struct {
	registry *prometheus.Registry

	ingestedEvents  *prometheus.CounterVec
	duplicateEvents *prometheus.CounterVec
	storageErrors   *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	lastSuccessTS   *prometheus.GaugeVec
	ingestDuration  *prometheus.HistogramVec
	digestsSent     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ingestedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_events_total",
		Help:      "Events stored by ingestion",
	}, []string{"source"})
	m.duplicateEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_events_total",
		Help:      "Candidates recognised as already stored",
	}, []string{"source"})
	m.storageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_errors_total",
		Help:      "Candidates skipped because storing them failed",
	}, []string{"source"})
	m.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_failures_total",
		Help:      "Ingestion runs that failed for a source",
	}, []string{"source", "stage"})
	m.lastSuccessTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_last_success_timestamp_seconds",
		Help:      "Unix time of the last successful ingestion per source",
	}, []string{"source"})
	m.ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_ingest_duration_seconds",
		Help:      "Time spent ingesting one source",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})
	m.digestsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "digests_total",
		Help:      "Digest delivery attempts",
	}, []string{"kind", "status"})

	m.registry.MustRegister(
		m.ingestedEvents,
		m.duplicateEvents,
		m.storageErrors,
		m.sourceFailures,
		m.lastSuccessTS,
		m.ingestDuration,
		m.digestsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSource records the outcome of one source's ingestion run. A
// non-empty failedStage marks the run as failed.
func (m *Metrics) ObserveSource(source string, ingested, duplicates, storageErrors int, failedStage string, duration time.Duration) {
	m.ingestedEvents.WithLabelValues(source).Add(float64(ingested))
	m.duplicateEvents.WithLabelValues(source).Add(float64(duplicates))
	m.storageErrors.WithLabelValues(source).Add(float64(storageErrors))
	m.ingestDuration.WithLabelValues(source).Observe(duration.Seconds())

	if failedStage != "" {
		m.sourceFailures.WithLabelValues(source, failedStage).Inc()
		return
	}
	m.lastSuccessTS.WithLabelValues(source).SetToCurrentTime()
}

func (m *Metrics) ObserveDigest(kind string, success bool) {
	status := "sent"
	if !success {
		status = "failed"
	}
	m.digestsSent.WithLabelValues(kind, status).Inc()
}
