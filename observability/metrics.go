package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Selection latencies sit in the microsecond range, far below the default
// prometheus buckets.
var selectionBuckets = prometheus.ExponentialBuckets(0.000001, 4, 10)

type selectorMetrics struct {
	decisions       *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	stickyFallbacks prometheus.Counter
	activeRuleset   *prometheus.GaugeVec
}

type compilerMetrics struct {
	compiles *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration prometheus.Histogram
}

type reloadMetrics struct {
	reloads       *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	activeVersion prometheus.Gauge
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	selectorMetricsOnce sync.Once
	selectorRegistry    *selectorMetrics

	compilerMetricsOnce sync.Once
	compilerRegistry    *compilerMetrics

	reloadMetricsOnce sync.Once
	reloadRegistry    *reloadMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Selector returns the lazily-initialised metrics registry tracking routing
// decisions.
func Selector() *selectorMetrics {
	selectorMetricsOnce.Do(func() {
		selectorRegistry = &selectorMetrics{
			decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "selector",
				Name:      "decisions_total",
				Help:      "Count of routing decisions segmented by outcome kind and gateway.",
			}, []string{"kind", "gateway"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pixrouter",
				Subsystem: "selector",
				Name:      "decision_duration_seconds",
				Help:      "Latency distribution for single selections against the active snapshot.",
				Buckets:   selectionBuckets,
			}, []string{"kind"}),
			stickyFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "selector",
				Name:      "sticky_fallbacks_total",
				Help:      "Count of weighted selections whose sticky field was absent from the context.",
			}),
			activeRuleset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "pixrouter",
				Subsystem: "selector",
				Name:      "active_ruleset_info",
				Help:      "Set to 1 for the currently active ruleset id and version pair.",
			}, []string{"ruleset_id", "version"}),
		}
		prometheus.MustRegister(
			selectorRegistry.decisions,
			selectorRegistry.latency,
			selectorRegistry.stickyFallbacks,
			selectorRegistry.activeRuleset,
		)
	})
	return selectorRegistry
}

// ObserveDecision records one routing decision. The kind should be the
// decision's string form (routed, denied, defaulted, no_match).
func (m *selectorMetrics) ObserveDecision(kind, gateway string, duration time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if gateway == "" {
		gateway = "none"
	}
	m.decisions.WithLabelValues(kind, gateway).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStickyFallback counts a weighted pick that fell back to the RNG.
func (m *selectorMetrics) RecordStickyFallback() {
	if m == nil {
		return
	}
	m.stickyFallbacks.Inc()
}

// SetActiveRuleset marks the supplied id/version pair as active and clears any
// previously exported pair.
func (m *selectorMetrics) SetActiveRuleset(id, version int64) {
	if m == nil {
		return
	}
	m.activeRuleset.Reset()
	m.activeRuleset.WithLabelValues(fmt.Sprintf("%d", id), fmt.Sprintf("%d", version)).Set(1)
}

// Compiler returns the metrics registry for ruleset compilation.
func Compiler() *compilerMetrics {
	compilerMetricsOnce.Do(func() {
		compilerRegistry = &compilerMetrics{
			compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "compiler",
				Name:      "compiles_total",
				Help:      "Count of ruleset compilations segmented by outcome.",
			}, []string{"outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "compiler",
				Name:      "errors_total",
				Help:      "Count of compile errors segmented by error code.",
			}, []string{"code"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "pixrouter",
				Subsystem: "compiler",
				Name:      "compile_duration_seconds",
				Help:      "Latency distribution for full ruleset compilations.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			compilerRegistry.compiles,
			compilerRegistry.errors,
			compilerRegistry.duration,
		)
	})
	return compilerRegistry
}

// ObserveCompile records a compilation attempt and its per-code error counts.
func (m *compilerMetrics) ObserveCompile(duration time.Duration, codes []string) {
	if m == nil {
		return
	}
	outcome := "success"
	if len(codes) > 0 {
		outcome = "error"
	}
	m.compiles.WithLabelValues(outcome).Inc()
	for _, code := range codes {
		if code = strings.TrimSpace(code); code == "" {
			code = "unknown"
		}
		m.errors.WithLabelValues(code).Inc()
	}
	m.duration.Observe(duration.Seconds())
}

// Reload returns the metrics registry for ruleset hot reloads.
func Reload() *reloadMetrics {
	reloadMetricsOnce.Do(func() {
		reloadRegistry = &reloadMetrics{
			reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "reload",
				Name:      "reloads_total",
				Help:      "Count of snapshot reload attempts segmented by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pixrouter",
				Subsystem: "reload",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful snapshot install.",
			}),
			activeVersion: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "pixrouter",
				Subsystem: "reload",
				Name:      "active_version",
				Help:      "Version number of the active ruleset snapshot.",
			}),
		}
		prometheus.MustRegister(
			reloadRegistry.reloads,
			reloadRegistry.lastSuccess,
			reloadRegistry.activeVersion,
		)
	})
	return reloadRegistry
}

// RecordReload tracks one reload attempt. Triggers should be stable strings
// such as "poll", "sighup", or "admin".
func (m *reloadMetrics) RecordReload(trigger string, version int64, err error) {
	if m == nil {
		return
	}
	if trigger = strings.TrimSpace(trigger); trigger == "" {
		trigger = "unknown"
	}
	if err != nil {
		m.reloads.WithLabelValues(trigger, "error").Inc()
		return
	}
	m.reloads.WithLabelValues(trigger, "success").Inc()
	m.lastSuccess.SetToCurrentTime()
	m.activeVersion.Set(float64(version))
}

// HTTP returns the metrics registry used by the selectord HTTP surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route, method, and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route, method, and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pixrouter",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pixrouter",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}
