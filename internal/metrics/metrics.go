// Package metrics collects and exposes Prometheus metrics for the login flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records login flow metrics.
type Collector struct {
	loginAllowed  prometheus.Counter
	loginDenied   *prometheus.CounterVec
	loginLatency  prometheus.Histogram
	accountsWiped prometheus.Counter
	roleResyncs   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with the given
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discordgate_login_allowed_total",
			Help: "Total number of allowed login attempts",
		}),
		loginDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discordgate_login_denied_total",
			Help: "Total number of denied login attempts by error kind",
		}, []string{"kind"}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "discordgate_login_latency_seconds",
			Help:    "Latency of the full login authorization flow in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		accountsWiped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discordgate_accounts_deleted_total",
			Help: "Total number of deleted accounts",
		}),
		roleResyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discordgate_role_resync_total",
			Help: "Background role re-sync results",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.loginAllowed,
		c.loginDenied,
		c.loginLatency,
		c.accountsWiped,
		c.roleResyncs,
	)

	return c
}

// RecordLoginAllowed records a successful login.
func (c *Collector) RecordLoginAllowed(duration time.Duration) {
	c.loginAllowed.Inc()
	c.loginLatency.Observe(duration.Seconds())
}

// RecordLoginDenied records a denied login by error kind.
func (c *Collector) RecordLoginDenied(kind string, duration time.Duration) {
	c.loginDenied.WithLabelValues(kind).Inc()
	c.loginLatency.Observe(duration.Seconds())
}

// RecordAccountDeleted records an account deletion.
func (c *Collector) RecordAccountDeleted() {
	c.accountsWiped.Inc()
}

// RecordRoleResync records one background role re-sync outcome.
func (c *Collector) RecordRoleResync(result string) {
	c.roleResyncs.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
