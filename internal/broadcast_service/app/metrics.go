package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsCreatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "requests_created_total",
			Help:      "Service requests created, by whether any provider was in range.",
		},
		[]string{"reach"}, // nearby, none
	)

	nearbyProvidersHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "broadcast",
			Name:      "nearby_providers",
			Help:      "Number of providers matched per created request.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	offersSubmittedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "offers_submitted_total",
			Help:      "Offer submissions by kind and outcome.",
		},
		[]string{"kind", "outcome"}, // outcome: ok, request_closed, duplicate, not_found, error
	)

	transitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Name:      "request_transitions_total",
			Help:      "Attempts to move a request out of PENDING, by target status and outcome.",
		},
		[]string{"to", "outcome"}, // outcome: ok, request_closed, error
	)

	operationDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "broadcast",
			Name:      "operation_duration_seconds",
			Help:      "Duration of lifecycle operations including fanout scheduling.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)
