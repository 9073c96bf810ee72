// Package metrics collects and exposes Prometheus metrics for the identity core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the services.
type Recorder interface {
	RecordClaim(outcome string)
	RecordGateDecision(destination string, issued bool)
	RecordMigration(outcome string)
	RecordAuthTimeout()
	RecordPlatformInit(outcome string)
}

// Outcome labels
const (
	OutcomeClaimed       = "claimed"
	OutcomeConflict      = "conflict"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
	OutcomeNoLegacy      = "no_legacy"
	OutcomeLinked        = "linked"
	OutcomeLookupError   = "lookup_error"
	OutcomeLinkError     = "link_error"
	OutcomeReady         = "ready"
	OutcomeLoginRedirect = "login_redirect"
	OutcomeInitError     = "init_error"
)

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	claims        *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	migrations    *prometheus.CounterVec
	authTimeouts  prometheus.Counter
	platformInits *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_handle_claims_total",
			Help: "Handle claims by outcome",
		}, []string{"outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_gate_decisions_total",
			Help: "Access gate decisions by destination and whether a redirect was issued",
		}, []string{"destination", "issued"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_legacy_migrations_total",
			Help: "Legacy account migrations by outcome",
		}, []string{"outcome"}),
		authTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fairway_auth_liveness_timeouts_total",
			Help: "Backend auth subscriptions that missed the liveness deadline",
		}),
		platformInits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fairway_platform_init_total",
			Help: "Host platform bootstrap results by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.claims,
		c.gateDecisions,
		c.migrations,
		c.authTimeouts,
		c.platformInits,
	)
	return c
}

func (c *Collector) RecordClaim(outcome string) {
	c.claims.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordGateDecision(destination string, issued bool) {
	c.gateDecisions.WithLabelValues(destination, issuedLabel(issued)).Inc()
}

func (c *Collector) RecordMigration(outcome string) {
	c.migrations.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordAuthTimeout() {
	c.authTimeouts.Inc()
}

func (c *Collector) RecordPlatformInit(outcome string) {
	c.platformInits.WithLabelValues(outcome).Inc()
}

// Claims returns the claim counter for outcome.
func (c *Collector) Claims(outcome string) prometheus.Counter {
	return c.claims.WithLabelValues(outcome)
}

// GateDecisions returns the decision counter for destination.
func (c *Collector) GateDecisions(destination string, issued bool) prometheus.Counter {
	return c.gateDecisions.WithLabelValues(destination, issuedLabel(issued))
}

// Migrations returns the migration counter for outcome.
func (c *Collector) Migrations(outcome string) prometheus.Counter {
	return c.migrations.WithLabelValues(outcome)
}

// AuthTimeouts returns the liveness timeout counter.
func (c *Collector) AuthTimeouts() prometheus.Counter {
	return c.authTimeouts
}

// PlatformInits returns the bootstrap counter for outcome.
func (c *Collector) PlatformInits(outcome string) prometheus.Counter {
	return c.platformInits.WithLabelValues(outcome)
}

func issuedLabel(issued bool) string {
	if issued {
		return "true"
	}
	return "false"
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. Used when no collector is configured.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordClaim(string)              {}
func (Nop) RecordGateDecision(string, bool) {}
func (Nop) RecordMigration(string)          {}
func (Nop) RecordAuthTimeout()              {}
func (Nop) RecordPlatformInit(string)       {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
