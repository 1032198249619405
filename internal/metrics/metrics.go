// Package metrics holds the Prometheus collectors for compaction and sync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compactions counts compaction attempts by result.
var Compactions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "compactor",
	Name:      "compactions_total",
	Help:      "Compaction attempts by result (noop, committed, failed).",
}, []string{"result"})

// FoldedUpdates counts log entries folded into snapshots.
var FoldedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "compactor",
	Name:      "folded_updates_total",
	Help:      "Log entries folded into snapshots.",
})

// SyncRounds counts sync rounds by outcome.
var SyncRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "syncer",
	Name:      "rounds_total",
	Help:      "Sync rounds by outcome (ok or the failure kind).",
}, []string{"outcome"})

// SyncBytes counts delta bytes pulled from and pushed to the peer.
var SyncBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "syncer",
	Name:      "bytes_total",
	Help:      "Delta bytes exchanged with the peer by direction (pull, push).",
}, []string{"direction"})

// SyncDuration observes the wall time of each sync round.
var SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "docsync",
	Subsystem: "syncer",
	Name:      "duration_seconds",
	Help:      "Duration of sync rounds, failed ones included.",
	Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// NewRegistry returns a registry holding the package collectors, the Go and
// process collectors, and any extra collectors given.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		Compactions,
		FoldedUpdates,
		SyncRounds,
		SyncBytes,
		SyncDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
