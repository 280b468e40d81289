package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "ledger",
			Name:      "entries_added_total",
			Help:      "Mutations recorded, by entity and kind.",
		},
		[]string{"entity", "kind"},
	)

	syncPassesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "ledger",
			Name:      "sync_passes_total",
			Help:      "Completed sync passes.",
		},
	)

	replayFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "ledger",
			Name:      "replay_failures_total",
			Help:      "Handler failures, by entity.",
		},
		[]string{"entity"},
	)

	abandonedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "ledger",
			Name:      "abandoned_total",
			Help:      "Entries dropped after exhausting their attempts.",
		},
		[]string{"entity"},
	)

	pendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "iriseller",
			Subsystem: "ledger",
			Name:      "pending_entries",
			Help:      "Unsynced entries in the ledger.",
		},
	)
)
