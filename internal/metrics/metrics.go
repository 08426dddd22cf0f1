// Package metrics exposes the process-wide Prometheus instruments. Collectors
// are registered once at init via promauto; the app serves them on a side
// port with promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brain_ticks_total",
		Help: "Market data ticks ingested from the stream.",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brain_stream_reconnects_total",
		Help: "Market data stream reconnect attempts.",
	})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brain_signals_total",
		Help: "Trade signals emitted by the dispatcher.",
	}, []string{"rule"})

	ProposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brain_proposals_total",
		Help: "Trade proposals submitted to the execution gateway, by decision.",
	}, []string{"status"})

	ClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brain_position_closes_total",
		Help: "Positions closed, by reason.",
	}, []string{"reason"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brain_open_positions",
		Help: "Positions currently tracked by the lifecycle manager.",
	})

	RegimeTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brain_regime_transitions_total",
		Help: "Market regime changes observed by the classifier.",
	})

	VIX = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brain_vix",
		Help: "Last volatility index reading from the poller.",
	})

	ReconcileAdoptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brain_reconcile_adoptions_total",
		Help: "Orphan broker positions adopted by the reconciliation sweep.",
	})

	ReconcileGhosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brain_reconcile_ghosts_total",
		Help: "Tracked positions removed because the broker no longer holds their legs.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
