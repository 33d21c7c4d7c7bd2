package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_bus_published_total",
			Help: "Messages published on the dispatch bus",
		},
		[]string{"kind"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghosthand_bus_queue_depth",
			Help: "Messages waiting on the dispatch bus",
		},
	)

	dispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_bus_dispatched_total",
			Help: "Messages routed by the dispatcher",
		},
		[]string{"kind", "outcome"},
	)

	queueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ghosthand_bus_queue_wait_seconds",
			Help:    "Time between publish and delivery",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
	)
)
