// Package metrics exposes gateway-wide Prometheus metrics. Labels are kept
// low-cardinality by design: route identifiers and upstream names only, never
// raw request paths or client IPs.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private Prometheus registry so multiple gateway instances
// (and tests) can each construct one without tripping duplicate-registration
// panics against the global registry.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	retryTotal       *prometheus.CounterVec
	rateLimitRejects *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	backendHealth    *prometheus.GaugeVec
	activeRequests   *prometheus.GaugeVec
}

// NewCollector builds and registers the gateway's metric family.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests handled by the gateway, by route, method and status.",
		}, []string{"route", "method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration observed at the gateway, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits, by route.",
		}, []string{"route"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses, by route.",
		}, []string{"route"}),

		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_total",
			Help: "Total forwarding retry attempts, by route.",
		}, []string{"route"}),

		rateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejects_total",
			Help: "Total requests rejected by the rate limiter, by policy.",
		}, []string{"policy"}),

		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state by upstream (0=closed, 1=open, 2=half_open).",
		}, []string{"upstream"}),

		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_health",
			Help: "Upstream health as last observed by the prober (0=unhealthy, 1=healthy).",
		}, []string{"upstream"}),

		activeRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "In-flight requests currently being forwarded, by route.",
		}, []string{"route"}),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.cacheHits,
		c.cacheMisses,
		c.retryTotal,
		c.rateLimitRejects,
		c.circuitState,
		c.backendHealth,
		c.activeRequests,
	)

	return c
}

// RecordRequest records a completed request's outcome and latency.
func (c *Collector) RecordRequest(route, method string, statusCode int, durationSeconds float64) {
	status := strconv.Itoa(statusCode)
	c.requestsTotal.WithLabelValues(route, method, status).Inc()
	c.requestDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordCacheHit records a cache hit for route.
func (c *Collector) RecordCacheHit(route string) {
	c.cacheHits.WithLabelValues(route).Inc()
}

// RecordCacheMiss records a cache miss for route.
func (c *Collector) RecordCacheMiss(route string) {
	c.cacheMisses.WithLabelValues(route).Inc()
}

// RecordRetry records a retry attempt for route.
func (c *Collector) RecordRetry(route string) {
	c.retryTotal.WithLabelValues(route).Inc()
}

// RecordRateLimitReject records an admission rejection under the named policy.
func (c *Collector) RecordRateLimitReject(policy string) {
	c.rateLimitRejects.WithLabelValues(policy).Inc()
}

// SetCircuitBreakerState publishes the breaker state for upstream (0/1/2).
func (c *Collector) SetCircuitBreakerState(upstream string, state int) {
	c.circuitState.WithLabelValues(upstream).Set(float64(state))
}

// SetBackendHealth publishes the prober's last health observation for upstream.
func (c *Collector) SetBackendHealth(upstream string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealth.WithLabelValues(upstream).Set(v)
}

// RecordActiveRequest adjusts the in-flight gauge for route by delta (+1/-1).
func (c *Collector) RecordActiveRequest(route string, delta float64) {
	c.activeRequests.WithLabelValues(route).Add(delta)
}

// Handler returns the HTTP handler serving this collector's registry in the
// Prometheus text exposition format, for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
