// Package metrics provides Prometheus metrics for the absence engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is the custom prometheus registry served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// =============================================================================
// CONFLICT CHECKS
// =============================================================================

// ConflictChecks counts evaluations by outcome: passed, conflict or error.
var ConflictChecks = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "absence",
	Name:      "conflict_checks_total",
	Help:      "Conflict evaluations by outcome",
}, []string{"outcome"})

// Violations counts rule violations by rule id.
var Violations = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "absence",
	Name:      "rule_violations_total",
	Help:      "Conflict rule violations by rule",
}, []string{"rule_id"})

// Submissions counts lifecycle operations by action and outcome: ok, conflict,
// overlap, not_eligible, insufficient_balance or error.
var Submissions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "absence",
	Name:      "submissions_total",
	Help:      "Submit, update and approve calls by outcome",
}, []string{"action", "outcome"})

// =============================================================================
// AUDIT
// =============================================================================

var AuditRuns = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "absence",
	Name:      "audit_runs_total",
	Help:      "Background re-evaluations of pending situations",
})

// AuditConflicting is the number of pending situations in conflict at the last audit.
var AuditConflicting = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "absence",
	Name:      "audit_conflicting_pending",
	Help:      "Pending situations breaking a rule at the last audit",
})

// AuditDurationSeconds tracks how long an audit run takes.
var AuditDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "absence",
	Name:      "audit_duration_seconds",
	Help:      "Time taken to audit pending situations",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// =============================================================================
// HTTP
// =============================================================================

var HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route pattern and status code",
}, []string{"route", "code"})

// Push sends the registry to a Pushgateway under job.
func Push(url, job string) error {
	return push.New(url, job).Gatherer(Registry).Push()
}
