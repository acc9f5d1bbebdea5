package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acksProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "message_ledger",
			Name:      "acks_processed_total",
			Help:      "Total acknowledgment receipts processed, by outcome.",
		},
		[]string{"outcome"}, // matched_<stage>, noop_<stage>, synthesized, ignored_*
	)
)
