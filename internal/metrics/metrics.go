// Package metrics exposes prometheus collectors for the claim pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "claimflow"

	stateLabel   = "state"
	outcomeLabel = "outcome"
	routeLabel   = "route"
)

var jobsTerminalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_terminal_total",
		Help:      "number of claim jobs that reached each terminal state",
	},
	[]string{stateLabel},
)

var jobsRoutedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "jobs_routed_total",
		Help:      "number of claim jobs routed to each submission path",
	},
	[]string{routeLabel},
)

var submissionAttemptsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "submission_attempts_total",
		Help:      "number of submission attempts by outcome",
	},
	[]string{outcomeLabel},
)

var ledgerBufferDepthMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "ledger_buffer_depth",
		Help:      "ledger records waiting in the local buffer",
	},
)

var ledgerReplayedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "ledger_replayed_total",
		Help:      "buffered ledger records successfully replayed to the sink",
	},
)

var duplicatesMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "duplicates_total",
		Help:      "inbound documents suppressed as duplicates",
	},
)

func IncJobTerminal(state string) {
	jobsTerminalMetric.With(prometheus.Labels{stateLabel: state}).Inc()
}

func IncJobRouted(route string) {
	jobsRoutedMetric.With(prometheus.Labels{routeLabel: route}).Inc()
}

func IncSubmissionAttempt(outcome string) {
	submissionAttemptsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func SetLedgerBufferDepth(n int) {
	ledgerBufferDepthMetric.Set(float64(n))
}

func IncLedgerReplayed() {
	ledgerReplayedMetric.Inc()
}

func IncDuplicate() {
	duplicatesMetric.Inc()
}

func init() {
	prometheus.MustRegister(
		jobsTerminalMetric,
		jobsRoutedMetric,
		submissionAttemptsMetric,
		ledgerBufferDepthMetric,
		ledgerReplayedMetric,
		duplicatesMetric,
	)
}
