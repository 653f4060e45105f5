package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SupervisorActivePipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_supervisor_active_pipelines",
			Help: "Current number of pipelines the supervisor owns.",
		},
	)

	SupervisorCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_supervisor_capacity",
			Help: "Configured maximum number of concurrent pipelines.",
		},
	)

	SupervisorHostCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_supervisor_host_cpu_percent",
			Help: "Host-wide CPU utilization sampled by the supervisor's monitoring loop.",
		},
	)

	SupervisorHostLoad1 = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_supervisor_host_load1",
			Help: "Host 1-minute load average sampled by the supervisor's monitoring loop.",
		},
	)

	SupervisorAcceleratorAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visionserve_supervisor_accelerator_available",
			Help: "Whether the configured hardware accelerator probe reports availability (1) or not (0).",
		},
	)

	SupervisorAddSourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visionserve_supervisor_add_source_failures_total",
			Help: "Total AddVideoSource calls that failed, by reason.",
		},
		[]string{"reason"},
	)
)

func SetSupervisorOccupancy(active, capacity int) {
	SupervisorActivePipelines.Set(float64(active))
	SupervisorCapacity.Set(float64(capacity))
}

func SetHostSample(cpuPercent, load1 float64) {
	SupervisorHostCPUPercent.Set(cpuPercent)
	SupervisorHostLoad1.Set(load1)
}

func SetAcceleratorAvailable(available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	SupervisorAcceleratorAvailable.Set(v)
}

func RecordAddSourceFailure(reason string) {
	SupervisorAddSourceFailuresTotal.WithLabelValues(reason).Inc()
}
