package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	restReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "client",
			Name:      "rest_replays_total",
			Help:      "Ledger entries replayed through REST handlers, by entity, kind and result.",
		},
		[]string{"entity", "kind", "result"},
	)
)
