package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "broadcast",
			Subsystem: "live",
			Name:      "connections",
			Help:      "Live connections registered in this process.",
		},
	)

	liveDeliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Subsystem: "live",
			Name:      "deliveries_total",
			Help:      "Live-channel delivery attempts by event type and outcome.",
		},
		[]string{"event_type", "outcome"}, // delivered, offline, overflow
	)

	relayMessagesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "broadcast",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Cross-process relay messages by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
)
