// Package metrics exposes the client's sync counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PullsTotal counts pulls by resource and outcome
	PullsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancesync_pulls_total",
			Help: "Total number of pulls by resource and status",
		},
		[]string{"resource", "status"},
	)

	// MergedRows counts rows applied to the local store by merge result
	MergedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancesync_merged_rows_total",
			Help: "Rows merged into the local store by result",
		},
		[]string{"resource", "result"},
	)

	// SendsTotal counts completed send protocols by outcome
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancesync_sends_total",
			Help: "Total number of idempotent sends by status",
		},
		[]string{"status"},
	)

	// SendAttempts tracks how many attempts a send needed
	SendAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "balancesync_send_attempts",
			Help:    "Attempts per send",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
	)

	// PendingMessages is the number of local messages awaiting confirmation
	PendingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "balancesync_pending_messages",
			Help: "Number of local messages not yet confirmed by the server",
		},
	)

	// Reachability is 1 while the backend is reachable
	Reachability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "balancesync_backend_reachable",
			Help: "1 when the backend answered the last probe",
		},
	)

	// CacheFetches counts query layer fetches by resource and outcome
	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancesync_cache_fetches_total",
			Help: "Cache-backed query fetches by resource and status",
		},
		[]string{"resource", "status"},
	)

	// RealtimeEvents counts realtime change events by resource and handling
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancesync_realtime_events_total",
			Help: "Realtime change events by resource and result",
		},
		[]string{"resource", "result"},
	)
)

func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
