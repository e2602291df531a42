// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every prometheus series the service emits.
type Collector struct {
	routeRequestsTotal *prometheus.CounterVec
	routeDuration      *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	pluginReloadsTotal *prometheus.CounterVec

	turnAppendFailures prometheus.Counter
}

// NewCollector registers all series with the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a private registry
// so parallel tests never collide.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		routeRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "route_requests_total",
				Help:      "Total routed requests by plugin and outcome",
			},
			[]string{"plugin", "outcome"},
		),
		routeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "route_duration_seconds",
				Help:      "End-to-end routing pipeline duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"plugin"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		pluginReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_reloads_total",
				Help:      "Plugin reload attempts by outcome",
			},
			[]string{"plugin", "outcome"},
		),
		turnAppendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turn_append_failures_total",
				Help:      "Conversation turns lost to persistence failures",
			},
		),
	}
}

// ObserveRoute records one routed request. plugin may be empty when the
// request failed before resolution.
func (c *Collector) ObserveRoute(plugin, outcome string, d time.Duration) {
	if plugin == "" {
		plugin = "unresolved"
	}
	c.routeRequestsTotal.WithLabelValues(plugin, outcome).Inc()
	c.routeDuration.WithLabelValues(plugin).Observe(d.Seconds())
}

// ObserveHTTP records one gateway request.
func (c *Collector) ObserveHTTP(method, path, status string, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// ObservePluginReload records a reload attempt.
func (c *Collector) ObservePluginReload(plugin, outcome string) {
	c.pluginReloadsTotal.WithLabelValues(plugin, outcome).Inc()
}

// ObserveTurnAppendFailure records one swallowed turn-append error.
func (c *Collector) ObserveTurnAppendFailure() {
	c.turnAppendFailures.Inc()
}
