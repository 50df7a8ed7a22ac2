// Package metrics provides Prometheus metrics for the trade tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradewatch"

// Poll results.
const (
	PollPending   = "pending"
	PollDecided   = "decided"
	PollError     = "error"
	PollMalformed = "malformed"
)

// Reconciliation outcomes.
const (
	OutcomeWin       = "win"
	OutcomeLose      = "lose"
	OutcomeCancelled = "cancelled"
	OutcomeUnknown   = "unknown"
)

// Metrics holds all Prometheus metrics of the tracker.
type Metrics struct {
	TradesPlaced     *prometheus.CounterVec
	PlacementErrors  *prometheus.CounterVec
	PollAttempts     *prometheus.CounterVec
	Reconciliations  *prometheus.CounterVec
	ActiveCountdowns prometheus.Gauge
	Resumes          *prometheus.CounterVec
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TradesPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "trades_placed_total",
			Help:      "Trades successfully created, by trade type",
		}, []string{"type"}),
		PlacementErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "placement_errors_total",
			Help:      "Trade placements that failed, by error kind (validation|request|server|other)",
		}, []string{"kind"}),
		PollAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "poll_attempts_total",
			Help:      "Outcome poll requests, by result",
		}, []string{"result"}),
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "completed_total",
			Help:      "Finished reconciliations, by outcome",
		}, []string{"outcome"}),
		ActiveCountdowns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "countdown_active",
			Help:      "1 while a trade countdown is running",
		}),
		Resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "resumes_total",
			Help:      "Pointer rehydrations on start, by action (countdown|polling|discard|none)",
		}, []string{"action"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and
// callers that do not expose them.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
