package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives pipeline events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// IncRejected counts a request rejected for an authenticity reason.
	IncRejected(kind string)
	// IncFailOpen counts a degraded result at the named site (override, quota_executions, ...).
	IncFailOpen(site string)
	// IncResolved counts a constructed identity.
	IncResolved(tenant, plan, source string)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) IncRejected(string)                 {}
func (Noop) IncFailOpen(string)                 {}
func (Noop) IncResolved(string, string, string) {}

// Prom implements Recorder backed by Prometheus counters.
type Prom struct {
	rejected *prometheus.CounterVec
	failOpen *prometheus.CounterVec
	resolved *prometheus.CounterVec
}

// NewProm builds the counters and registers them on reg. A nil reg means the
// default registerer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "Requests rejected by the identity pipeline, by failure kind",
		}, []string{"kind"}),
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Enrichment or quota lookups that degraded to permissive defaults, by site",
		}, []string{"site"}),
		resolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identities_resolved_total",
			Help:      "Resolved identities by tenant, plan and source",
		}, []string{"tenant", "plan", "source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(p.rejected, p.failOpen, p.resolved)
	return p
}

func (p *Prom) IncRejected(kind string) { p.rejected.WithLabelValues(kind).Inc() }
func (p *Prom) IncFailOpen(site string) { p.failOpen.WithLabelValues(site).Inc() }
func (p *Prom) IncResolved(tenant, plan, source string) {
	p.resolved.WithLabelValues(tenant, plan, source).Inc()
}
