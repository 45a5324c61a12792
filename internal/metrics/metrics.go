// Package metrics exposes portal counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the portal collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	logins       *prometheus.CounterVec
	rosterFetch  *prometheus.CounterVec
	routerErrors *prometheus.CounterVec
	revocations  prometheus.Counter
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		rosterFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "roster_fetches_total",
			Help:      "Roster cache lookups by result (hit, ok or failure kind).",
		}, []string{"result"}),
		routerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "router_errors_total",
			Help:      "Router control failures by operation and kind.",
		}, []string{"op", "kind"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "access_revocations_total",
			Help:      "Active sessions disconnected by an administrator.",
		}),
	}
	m.registry.MustRegister(
		m.logins,
		m.rosterFetch,
		m.routerErrors,
		m.revocations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Login records a login attempt. reason is empty for admissions.
func (m *Metrics) Login(outcome, reason string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome, reason).Inc()
}

// RosterFetch records a roster lookup.
func (m *Metrics) RosterFetch(result string) {
	if m == nil {
		return
	}
	m.rosterFetch.WithLabelValues(result).Inc()
}

// RouterError records a router failure.
func (m *Metrics) RouterError(op, kind string) {
	if m == nil {
		return
	}
	m.routerErrors.WithLabelValues(op, kind).Inc()
}

// Revoked records disconnected sessions.
func (m *Metrics) Revoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.Add(float64(n))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
