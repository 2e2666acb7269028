package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	deadTotal     *prometheus.CounterVec

	dispatchLatency *prometheus.HistogramVec

	pending       *prometheus.GaugeVec
	locked        *prometheus.GaugeVec
	janitorLeader *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "enqueue_total",
			Help:      "Total number of task enqueue operations.",
		}, []string{"table", "queue", "kind"}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dispatch_total",
			Help:      "Total number of task dispatch operations.",
		}, []string{"table", "queue", "kind", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dead_total",
			Help:      "Total number of tasks that entered failed state.",
		}, []string{"table", "queue", "kind"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for task dispatch.",
			Buckets: []float64{
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
				30, 60, 300, 1800,
			},
		}, []string{"table", "queue", "result"}),
		pending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "pending",
			Help:      "Current number of pending (unfinished) tasks.",
		}, []string{"table", "queue"}),
		locked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "locked",
			Help:      "Current number of locked (claimed, unfinished) tasks.",
		}, []string{"table", "queue"}),
		janitorLeader: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "janitor_leader",
			Help:      "Whether current instance holds the janitor lock for a table (1/0).",
		}, []string{"table"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
