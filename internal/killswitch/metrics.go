package killswitch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	firingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghosthand_killswitch_firings_total",
			Help: "Emergency stop firings by trigger source",
		},
		[]string{"source"},
	)

	terminatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghosthand_killswitch_terminated_processes_total",
			Help: "Processes force-terminated by the emergency stop",
		},
	)

	watchdogAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghosthand_killswitch_watchdog_age_seconds",
			Help: "Seconds since the watchdog was last fed",
		},
	)
)
