package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolewatch_polls_total",
		Help: "Readiness poll ticks, labelled by result (ok|error|skipped).",
	}, []string{"result"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rolewatch_executions_total",
		Help: "Execution attempts, labelled by outcome class.",
	}, []string{"outcome"})

	ReadyPayments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rolewatch_ready_payments",
		Help: "Payments currently executable for the monitored role.",
	})

	ReconcileEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rolewatch_feed_events",
		Help: "Entries in the last reconciled transaction feed.",
	})

	ReconcilePartial = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rolewatch_feed_partial_total",
		Help: "Reconciliations that returned a partial feed.",
	})
)
