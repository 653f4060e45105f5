package supervisor

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/visionserve/internal/crosscam"
	"github.com/technosupport/visionserve/internal/detector"
	"github.com/technosupport/visionserve/internal/eventsink"
	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/portalloc"
	"github.com/technosupport/visionserve/internal/workerpool"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *log.Logger { return log.New(discardWriter{}, "", 0) }

func newTestSupervisor(t *testing.T, maxPipelines int) *Supervisor {
	t.Helper()
	logger := quietLogger()

	ports := portalloc.New(18090, 4)
	registry := crosscam.New(crosscam.DefaultConfig(), logger)
	sink := eventsink.New(nil, eventsink.DefaultConfig(), logger)
	pool := workerpool.New(2, 8, logger)
	t.Cleanup(pool.Shutdown)
	det := detector.New(detector.HeuristicBackend{})

	cfg := DefaultConfig()
	cfg.MaxPipelines = maxPipelines
	cfg.MonitorInterval = 20 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond

	s, err := New(cfg, ports, registry, sink, pool, det, 1, logger)
	require.NoError(t, err)
	return s
}

func syntheticSource(id string) model.VideoSource {
	return model.VideoSource{ID: id, Width: 64, Height: 48, Enabled: true}
}

func TestNew_RejectsMaxPipelinesAbovePortPool(t *testing.T) {
	ports := portalloc.New(18090, 2)
	registry := crosscam.New(crosscam.DefaultConfig(), nil)
	sink := eventsink.New(nil, eventsink.DefaultConfig(), nil)
	pool := workerpool.New(1, 4, nil)
	defer pool.Shutdown()
	det := detector.New(detector.HeuristicBackend{})

	cfg := DefaultConfig()
	cfg.MaxPipelines = 10
	_, err := New(cfg, ports, registry, sink, pool, det, 1, nil)
	assert.Error(t, err)
}

func TestAddVideoSource_StartsAndListsPipeline(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	assert.Contains(t, s.ListActive(), "cam-1")
	assert.True(t, s.IsRunning("cam-1"))

	require.NoError(t, s.RemoveVideoSource(ctx, "cam-1"))
	assert.NotContains(t, s.ListActive(), "cam-1")
}

func TestAddVideoSource_RejectsInvalidID(t *testing.T) {
	s := newTestSupervisor(t, 4)
	err := s.AddVideoSource(context.Background(), model.VideoSource{ID: "bad id!"})
	assert.ErrorIs(t, err, ErrInvalidCameraID)
}

func TestAddVideoSource_RejectsDuplicateID(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx := context.Background()
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	defer s.RemoveVideoSource(ctx, "cam-1")

	err := s.AddVideoSource(ctx, syntheticSource("cam-1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestAddVideoSource_RejectsBeyondCapacity(t *testing.T) {
	s := newTestSupervisor(t, 1)
	ctx := context.Background()
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	defer s.RemoveVideoSource(ctx, "cam-1")

	err := s.AddVideoSource(ctx, syntheticSource("cam-2"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRemoveVideoSource_UnknownIDErrors(t *testing.T) {
	s := newTestSupervisor(t, 4)
	err := s.RemoveVideoSource(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveVideoSource_ReleasesPort(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx := context.Background()
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	assert.Equal(t, 1, s.ports.Stats().Used)

	require.NoError(t, s.RemoveVideoSource(ctx, "cam-1"))
	assert.Equal(t, 0, s.ports.Stats().Used)
}

func TestSetters_ForwardToPipelineAndErrorWhenMissing(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx := context.Background()
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	defer s.RemoveVideoSource(ctx, "cam-1")

	assert.NoError(t, s.SetDetectionThresholds("cam-1", 0.6, 0.5))
	assert.NoError(t, s.SetEnabledClasses("cam-1", map[int]bool{0: true}))
	assert.NoError(t, s.SetPersonStatsEnabled("cam-1", true))
	assert.NoError(t, s.SetROIs("cam-1", []model.ROI{}))
	assert.NoError(t, s.SetRules("cam-1", []model.Rule{}))

	assert.ErrorIs(t, s.SetDetectionThresholds("ghost", 0.5, 0.5), ErrNotFound)
}

func TestGet_ReturnsStatsForActivePipeline(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx := context.Background()
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))
	defer s.RemoveVideoSource(ctx, "cam-1")

	_, ok := s.Get("cam-1")
	assert.True(t, ok)

	_, ok = s.Get("ghost")
	assert.False(t, ok)
}

func TestStartStop_RunsMonitorLoopAndStopsAllPipelines(t *testing.T) {
	s := newTestSupervisor(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	require.NoError(t, s.AddVideoSource(ctx, syntheticSource("cam-1")))

	require.Eventually(t, func() bool {
		return s.GetHostMetrics().MonitorCycleMean > 0 || s.GetHostMetrics().CPUPercent >= 0
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.Empty(t, s.ListActive())
}

func TestGetHostMetrics_ReportsAcceleratorUnavailableByDefault(t *testing.T) {
	s := newTestSupervisor(t, 4)
	hm := s.GetHostMetrics()
	assert.False(t, hm.Accelerator.Available)
	assert.Equal(t, 4, hm.PortPoolSize)
}
