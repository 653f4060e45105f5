package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectorInferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visionserve_detector_inference_latency_ms",
			Help:    "Detector backend inference latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"backend"},
	)

	DetectorDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_detector_detections_total",
			Help: "Total detections emitted after confidence and NMS filtering, by class.",
		},
		[]string{"backend", "class"},
	)

	DetectorBackendAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_detector_backend_available",
			Help: "Whether a detector backend reports itself available (1) or is falling back to the heuristic path (0).",
		},
		[]string{"backend"},
	)
)

func RecordInferenceLatency(backend string, latencyMs float64) {
	DetectorInferenceLatency.WithLabelValues(backend).Observe(latencyMs)
}

func RecordDetections(backend string, countByClass map[string]int) {
	for class, n := range countByClass {
		DetectorDetectionsTotal.WithLabelValues(backend, class).Add(float64(n))
	}
}

func SetBackendAvailable(backend string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	DetectorBackendAvailable.WithLabelValues(backend).Set(v)
}
