package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway calls by method and outcome (completed, queued, failed).",
		},
		[]string{"method", "outcome"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Retry attempts after a transient failure.",
		},
	)

	unauthorizedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "gateway",
			Name:      "unauthorized_total",
			Help:      "401 responses that invalidated the stored credential.",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "iriseller",
			Subsystem: "gateway",
			Name:      "offline_queue_depth",
			Help:      "Requests waiting in the offline queue.",
		},
	)

	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iriseller",
			Subsystem: "gateway",
			Name:      "replays_total",
			Help:      "Offline queue replays by result (ok, failed).",
		},
		[]string{"result"},
	)
)
