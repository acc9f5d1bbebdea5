package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backfillJobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contact",
			Name:      "backfill_jobs_processed_total",
			Help:      "Total avatar/masked-identity backfill jobs finished.",
		},
		[]string{"kind", "status"}, // status: "done", "exhausted"
	)
)
