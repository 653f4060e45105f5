package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-pipeline metrics. Labelled by camera_id, which is safe cardinality
// given the MAX_PIPELINES=16 ceiling enforced by the supervisor.
var (
	PipelineFramesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_pipeline_frames_processed_total",
			Help: "Total frames that completed the full per-frame pipeline.",
		},
		[]string{"camera_id"},
	)

	PipelineFramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_pipeline_frames_dropped_total",
			Help: "Total frames dropped before completing the pipeline (decode backlog, detector overload).",
		},
		[]string{"camera_id"},
	)

	PipelineFPS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_pipeline_fps",
			Help: "Rolling effective frames-per-second for a camera's pipeline.",
		},
		[]string{"camera_id"},
	)

	PipelineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visionserve_pipeline_state",
			Help: "Current pipeline lifecycle state as an enum value (see pipeline.State).",
		},
		[]string{"camera_id"},
	)

	PipelineFrameLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visionserve_pipeline_frame_latency_ms",
			Help:    "End-to-end per-frame latency, decode through preview publish.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"camera_id"},
	)
)

func RecordFrameProcessed(cameraID string, latencyMs float64) {
	PipelineFramesProcessedTotal.WithLabelValues(cameraID).Inc()
	PipelineFrameLatency.WithLabelValues(cameraID).Observe(latencyMs)
}

func RecordFrameDropped(cameraID string, count int) {
	PipelineFramesDroppedTotal.WithLabelValues(cameraID).Add(float64(count))
}

func SetPipelineFPS(cameraID string, fps float64) {
	PipelineFPS.WithLabelValues(cameraID).Set(fps)
}

func SetPipelineState(cameraID string, state int) {
	PipelineState.WithLabelValues(cameraID).Set(float64(state))
}
