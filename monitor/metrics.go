// Package monitor exposes service metrics through Prometheus. A nil
// *Metrics is valid and records nothing.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memox"

type Metrics struct {
	registry *prometheus.Registry

	cacheRequests    *prometheus.CounterVec
	searchPath       *prometheus.CounterVec
	embeddings       *prometheus.CounterVec
	persistFailures  prometheus.Counter
	requestDurations *prometheus.HistogramVec
}

// New creates metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Response cache lookups by operation and result.",
		}, []string{"operation", "result"}),
		searchPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_path_total",
			Help:      "Similarity searches by execution path.",
		}, []string{"path"}),
		embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_generations_total",
			Help:      "Embedding generator calls by result code.",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_persist_failures_total",
			Help:      "Background embedding writes that failed.",
		}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.cacheRequests, m.searchPath, m.embeddings, m.persistFailures, m.requestDurations)
	return m
}

func (m *Metrics) CacheRequest(operation string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SearchPath(path string) {
	if m == nil {
		return
	}
	m.searchPath.WithLabelValues(path).Inc()
}

// EmbeddingGenerated records a generator call; result is "ok" or an error code.
func (m *Metrics) EmbeddingGenerated(result string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(result).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDurations.WithLabelValues(route, http.StatusText(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
