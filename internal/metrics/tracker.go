package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrackerActiveTracks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_tracker_active_tracks",
			Help: "Current number of local tracks held by a camera's tracker, by lifecycle state.",
		},
		[]string{"camera_id", "state"},
	)

	TrackerPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_tracker_promotions_total",
			Help: "Total tentative-to-confirmed track promotions.",
		},
		[]string{"camera_id"},
	)

	TrackerAssociationCost = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visionserve_tracker_association_cost",
			Help:    "Blended IoU/ReID cost of accepted cascade associations.",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"camera_id", "pass"},
	)
)

func SetActiveTracks(cameraID, state string, n int) {
	TrackerActiveTracks.WithLabelValues(cameraID, state).Set(float64(n))
}

func RecordPromotion(cameraID string) {
	TrackerPromotionsTotal.WithLabelValues(cameraID).Inc()
}

func RecordAssociationCost(cameraID, pass string, cost float64) {
	TrackerAssociationCost.WithLabelValues(cameraID, pass).Observe(cost)
}
