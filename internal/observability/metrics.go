package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalUpdatesTotal counts processed update requests by outcome
	SignalUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_updates_total",
		Help: "The total number of signal update requests",
	}, []string{"status"})

	// SignalUpdateDurationSeconds measures update latency
	SignalUpdateDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_update_duration_seconds",
		Help:    "The latency of signal update processing",
		Buckets: prometheus.DefBuckets,
	})

	// EvictionRunsTotal counts policy runs that removed at least one signal
	EvictionRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_eviction_runs_total",
		Help: "The total number of eviction runs that removed signals",
	})

	// SignalsEvictedTotal counts evicted signals
	SignalsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signals_evicted_total",
		Help: "The total number of signals removed by eviction",
	})

	// OwnerSignalBytes observes an owner's aggregate size after eviction
	OwnerSignalBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "owner_signal_bytes",
		Help:    "Aggregate signal size per owner after eviction",
		Buckets: prometheus.ExponentialBuckets(256, 2, 10),
	})

	// SignalEntryBytes tracks the largest and smallest entry seen in the last eviction run
	SignalEntryBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signal_entry_bytes",
		Help: "Largest and smallest signal entry observed during the last eviction run",
	}, []string{"bound"})
)
