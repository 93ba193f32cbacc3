package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts gateway notifications by outcome
	// (applied, duplicate, ignored, error).
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexbilling",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Gateway webhook events by provider, event type and outcome.",
	}, []string{"provider", "type", "outcome"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexbilling",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Gateway webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// SideEffectFailures counts best-effort operations that failed without
	// blocking the primary change.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexbilling",
		Subsystem: "billing",
		Name:      "side_effect_failures_total",
		Help:      "Failed best-effort operations by name.",
	}, []string{"operation"})

	// TransitionsTotal counts applied subscription status changes.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexbilling",
		Subsystem: "billing",
		Name:      "status_transitions_total",
		Help:      "Subscription status transitions by source and target status.",
	}, []string{"from", "to"})
)
