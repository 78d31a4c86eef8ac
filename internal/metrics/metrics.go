// Package metrics exposes prometheus counters/gauges for the monitor,
// scheduler, and relay submitter, plus the /metrics HTTP handler. The
// package-level promauto var shape mirrors the call sites the teacher's
// node.go makes into its own internal/metrics package
// (metrics.SharesAccepted.Inc(), metrics.Handler()), whose source was
// not present in the retrieved pack; the shape is grounded on those call
// sites plus github.com/prometheus/client_golang usage elsewhere in the
// example pack (compose-network-publisher/x/publisher/metrics.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlocksDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pooler_blocks_discovered_total",
		Help: "Total number of new blocks discovered by the block monitor.",
	})

	MonitorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pooler_monitor_errors_total",
		Help: "Total number of consecutive-error increments in the block monitor poll loop.",
	})

	MonitorHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pooler_monitor_halted",
		Help: "1 if the block monitor has halted after exceeding its error ceiling, else 0.",
	})

	WorkJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pooler_work_jobs_started_total",
		Help: "Total number of per-farmer work jobs started by the scheduler.",
	})

	WorkResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pooler_work_results_total",
		Help: "Total number of per-farmer work results, labeled by terminal status.",
	}, []string{"status"})

	MinerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pooler_miner_duration_seconds",
		Help:    "Wall-clock duration of miner child invocations.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	RelaySubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pooler_relay_submissions_total",
		Help: "Total number of relay submission attempts, labeled by outcome.",
	}, []string{"outcome"})

	ActiveBlockBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pooler_active_block_batches",
		Help: "Number of block work batches currently in flight.",
	})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
