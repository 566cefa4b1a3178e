package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type StorageMetrics struct {
	queries       *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	activations   *prometheus.CounterVec
	rulesetsKnown prometheus.Gauge
}

var (
	storageOnce     sync.Once
	storageRegistry *StorageMetrics
)

func Storage() *StorageMetrics {
	storageOnce.Do(func() {
		storageRegistry = &StorageMetrics{
			queries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storage_queries_total",
				Help: "Count of repository operations by name and outcome.",
			}, []string{"op", "outcome"}),
			queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "storage_query_duration_seconds",
				Help:    "Latency distribution for repository operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storage_cache_hits_total",
				Help: "Count of ruleset document reads served from the cache.",
			}, []string{"op"}),
			cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storage_cache_misses_total",
				Help: "Count of ruleset document reads that fell through to the repository.",
			}, []string{"op"}),
			activations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "storage_activations_total",
				Help: "Count of ruleset activations recorded per ruleset id.",
			}, []string{"ruleset_id"}),
			rulesetsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "storage_rulesets_known",
				Help: "Number of ruleset versions present in the repository.",
			}),
		}
		prometheus.MustRegister(
			storageRegistry.queries,
			storageRegistry.queryLatency,
			storageRegistry.cacheHits,
			storageRegistry.cacheMisses,
			storageRegistry.activations,
			storageRegistry.rulesetsKnown,
		)
	})
	return storageRegistry
}

func (m *StorageMetrics) ObserveQuery(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.queries.WithLabelValues(op, outcome).Inc()
	m.queryLatency.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *StorageMetrics) RecordCacheHit(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.cacheHits.WithLabelValues(op).Inc()
}

func (m *StorageMetrics) RecordCacheMiss(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.cacheMisses.WithLabelValues(op).Inc()
}

func (m *StorageMetrics) RecordActivation(rulesetID int64) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(fmt.Sprintf("%d", rulesetID)).Inc()
}

func (m *StorageMetrics) SetRulesetsKnown(n int) {
	if m == nil {
		return
	}
	m.rulesetsKnown.Set(float64(n))
}
