package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushSentCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Subsystem: "push",
			Name:      "sends_total",
			Help:      "Push sends per endpoint, by gateway and outcome.",
		},
		[]string{"gateway", "outcome"}, // outcome: ok, invalid, retryable, error
	)

	pushEndpointsDeactivatedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Subsystem: "push",
			Name:      "endpoints_deactivated_total",
			Help:      "Endpoints deactivated after the gateway reported them invalid.",
		},
	)

	pushJobsDroppedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Subsystem: "push",
			Name:      "jobs_dropped_total",
			Help:      "Push jobs dropped before dispatch.",
		},
		[]string{"reason"}, // queue_full, publish_error, decode_error
	)

	pushGatewayRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broadcast",
			Subsystem: "push",
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of HTTP requests to the push gateway.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway"},
	)
)
