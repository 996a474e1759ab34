// Package metrics exposes the gate daemon's ambient observability
// counters (spec.md's Non-goals exclude distributed coordination, not
// metrics) on a dedicated Prometheus registry. Only the gate listener
// wires this in. The metadata listener stays a minimal, faithful
// emulator with no extra surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gate's request counters on their own registry so
// they never collide with (or depend on) process-wide default
// collectors.
type Metrics struct {
	registry *prometheus.Registry

	mintTotal        *prometheus.CounterVec
	confirmDuration  prometheus.Histogram
	rateLimitedTotal prometheus.Counter
}

// New registers and returns a fresh Metrics instance.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		mintTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mint_total",
			Help: "Token mint attempts by level and outcome.",
		}, []string{"level", "result"}),
		confirmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confirm_duration_seconds",
			Help:    "Time spent waiting on the production-access confirmation dialog.",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_denied_total",
			Help: "Requests denied by the prod-request rate limiter.",
		}),
	}

	reg.MustRegister(m.mintTotal, m.confirmDuration, m.rateLimitedTotal)
	return m
}

// ObserveMint records one mint attempt's outcome (result is typically
// "granted", "denied", or "error"; level is "dev" or "prod").
func (m *Metrics) ObserveMint(level, result string) {
	if m == nil {
		return
	}
	m.mintTotal.WithLabelValues(level, result).Inc()
}

// ObserveConfirmDuration records how long a confirmation dialog took.
func (m *Metrics) ObserveConfirmDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.confirmDuration.Observe(d.Seconds())
}

// ObserveRateLimited increments the rate-limit denial counter.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
