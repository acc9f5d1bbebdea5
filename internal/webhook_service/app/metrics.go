package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "webhook",
			Name:      "events_total",
			Help:      "Total webhook events by path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	webhookSignatureFailuresCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "webhook",
			Name:      "signature_failures_total",
			Help:      "Total webhook deliveries with a missing or invalid signature.",
		},
	)
)

// SignatureFailed records one failed signature verification. The transport
// calls it whether or not hard-fail is enabled.
func SignatureFailed() {
	webhookSignatureFailuresCounter.Inc()
}
