// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesetd",
		Subsystem: "changesets",
		Name:      "transitions_total",
		Help:      "Committed changeset status transitions.",
	}, []string{"from", "to"})

	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesetd",
		Subsystem: "changesets",
		Name:      "rejections_total",
		Help:      "Changeset requests rejected, by error code.",
	}, []string{"code"})

	Published = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesetd",
		Subsystem: "changesets",
		Name:      "published_total",
		Help:      "Changesets published, by trigger (request or scheduler).",
	}, []string{"trigger"})

	AuthzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "changesetd",
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Capability checks broken down by capability and result.",
	}, []string{"capability", "result"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "changesetd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of REST requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Result renders a boolean decision as a label value.
func Result(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
