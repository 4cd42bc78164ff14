// Package metrics defines the Prometheus collectors of the search service
// and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obras_search"

// Search outcomes recorded in SearchesTotal.
const (
	OutcomeHit   = "cache_hit"
	OutcomeMiss  = "engine"
	OutcomeEmpty = "zero_result"
	OutcomeShort = "short_query"
	OutcomeError = "error"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	ResultCacheEntries   prometheus.Gauge
	IndexedDocuments     prometheus.Gauge
	IndexBuildsTotal     *prometheus.CounterVec
	ChunksLoaded         prometheus.Gauge
	ChunkLoadsTotal      *prometheus.CounterVec
	PrefetchTotal        *prometheus.CounterVec
	SnapshotOpsTotal     *prometheus.CounterVec
	BridgeState          *prometheus.GaugeVec
	BridgeFallbacksTotal prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "HTTP requests currently being served.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Searches by outcome (cache_hit, engine, zero_result, short_query, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_latency_seconds",
				Help:      "Search latency in seconds by where the answer came from.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"source"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Post-filter hit count per search.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		ResultCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "result_cache_entries",
				Help:      "Entries held by the result cache.",
			},
		),
		IndexedDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "indexed_documents",
				Help:      "Documents in the active index.",
			},
		),
		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_builds_total",
				Help:      "Index builds by origin (snapshot, source, rebuild) and status.",
			},
			[]string{"origin", "status"},
		),
		ChunksLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "chunks_loaded",
				Help:      "Work chunks currently loaded, excluding the base chunk.",
			},
		),
		ChunkLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunk_loads_total",
				Help:      "Work chunk loads by status.",
			},
			[]string{"status"},
		),
		PrefetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prefetch_total",
				Help:      "Speculative work loads by status.",
			},
			[]string{"status"},
		),
		SnapshotOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_operations_total",
				Help:      "Persistent snapshot operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		BridgeState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_state",
				Help:      "1 for the current execution bridge state, 0 otherwise.",
			},
			[]string{"state"},
		),
		BridgeFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_fallbacks_total",
				Help:      "Switches from the background worker to the inline engine.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.SearchesTotal,
			m.SearchLatency,
			m.SearchResultsCount,
			m.ResultCacheEntries,
			m.IndexedDocuments,
			m.IndexBuildsTotal,
			m.ChunksLoaded,
			m.ChunkLoadsTotal,
			m.PrefetchTotal,
			m.SnapshotOpsTotal,
			m.BridgeState,
			m.BridgeFallbacksTotal,
			m.CircuitBreakerState,
		)
	}
	return m
}

// SetBridgeState marks state as the only active bridge state.
func (m *Metrics) SetBridgeState(state string, all ...string) {
	for _, s := range all {
		m.BridgeState.WithLabelValues(s).Set(0)
	}
	m.BridgeState.WithLabelValues(state).Set(1)
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
