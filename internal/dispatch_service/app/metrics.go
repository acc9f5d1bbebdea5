package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchSendsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "sends_total",
			Help:      "Total outbound sends by provider and outcome.",
		},
		[]string{"provider", "status"},
	)

	dispatchSendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Latency of the provider send call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)
