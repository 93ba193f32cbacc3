package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts outbound processor calls by outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lexbilling",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound payment gateway requests by provider, operation and outcome.",
	}, []string{"provider", "op", "outcome"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lexbilling",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Outbound payment gateway request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "op"})
)

func observe(provider Provider, op string, start time.Time, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case IsRetryable(err):
		outcome = "retryable_error"
	default:
		outcome = "error"
	}
	RequestsTotal.WithLabelValues(string(provider), op, outcome).Inc()
	RequestDuration.WithLabelValues(string(provider), op).Observe(time.Since(start).Seconds())
}
