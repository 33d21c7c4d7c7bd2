package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_orchestrator_requests_total",
			Help: "Action requests by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghosthand_orchestrator_execution_seconds",
			Help:    "Time from dispatch to terminal state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghosthand_orchestrator_in_flight",
			Help: "Requests between dispatch and terminal state",
		},
	)
)
