package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	DrainOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_drains_total",
			Help: "Engine ticks by outcome",
		},
		[]string{"outcome"},
	)

	EngineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_state",
			Help: "Current engine state (0 idle, 1 gated, 2 draining, 3 paused)",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(DrainOutcomes)
	prometheus.MustRegister(EngineState)
}
