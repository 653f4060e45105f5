package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CrossCamGlobalTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_crosscam_global_tracks",
			Help: "Current number of global (cross-camera) tracks held by the registry.",
		},
	)

	CrossCamBindsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_crosscam_binds_total",
			Help: "Total local-track reports, split by whether they bound to an existing global track or minted a new one.",
		},
		[]string{"result"}, // "matched", "new", "refreshed"
	)

	CrossCamEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "visionserve_crosscam_evictions_total",
			Help: "Total global tracks evicted for capacity or age.",
		},
	)
)

func RecordCrossCamBind(result string) {
	CrossCamBindsTotal.WithLabelValues(result).Inc()
}

func RecordCrossCamEviction(n int) {
	CrossCamEvictionsTotal.Add(float64(n))
}

func SetCrossCamSize(n int) {
	CrossCamGlobalTracks.Set(float64(n))
}
