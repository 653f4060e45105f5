package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventSinkQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_eventsink_queue_depth",
			Help: "Current pending-event queue depth for an outbound sink channel.",
		},
		[]string{"channel"},
	)

	EventSinkDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_eventsink_dropped_total",
			Help: "Total events dropped from an overflowing sink channel queue.",
		},
		[]string{"channel"},
	)

	EventSinkDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_eventsink_degraded",
			Help: "Whether a sink channel has exhausted retries on its most recent event (1) or is healthy (0).",
		},
		[]string{"channel"},
	)

	EventSinkDedupSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visionserve_eventsink_dedup_suppressed_total",
			Help: "Total events suppressed by the distributed dedup window.",
		},
	)
)

func SetChannelQueueDepth(channel string, depth int) {
	EventSinkQueueDepth.WithLabelValues(channel).Set(float64(depth))
}

func SetChannelDegraded(channel string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	EventSinkDegraded.WithLabelValues(channel).Set(v)
}

func RecordChannelDropped(channel string, n uint64) {
	EventSinkDroppedTotal.WithLabelValues(channel).Add(float64(n))
}

func RecordDedupSuppressed() {
	EventSinkDedupSuppressedTotal.Inc()
}
