package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_policy_verdicts_total",
			Help: "Total number of policy verdicts",
		},
		[]string{"decision", "gate", "risk"},
	)

	evaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghosthand_policy_evaluation_duration_seconds",
			Help:    "Time spent running the gate chain",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
		},
	)

	overridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_policy_overrides_total",
			Help: "Break-glass override attempts",
		},
		[]string{"result"},
	)
)
