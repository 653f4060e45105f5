// Package supervisor implements the Supervisor of spec.md §4.14: the
// singleton owner of every per-camera Pipeline, host metrics sampling,
// and capacity/lifecycle enforcement. Grounded on the teacher's
// internal/nvr/health_monitor.go for the ticking monitoring-thread shape
// and internal/nvr/monitor.go for the "hand slow construction off to a
// worker pool, hold the map lock only to insert/erase" pattern.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/visionserve/internal/crosscam"
	"github.com/technosupport/visionserve/internal/decoder"
	"github.com/technosupport/visionserve/internal/detector"
	"github.com/technosupport/visionserve/internal/eventsink"
	"github.com/technosupport/visionserve/internal/hostmetrics"
	"github.com/technosupport/visionserve/internal/lockorder"
	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/personfilter"
	"github.com/technosupport/visionserve/internal/pipeline"
	"github.com/technosupport/visionserve/internal/portalloc"
	"github.com/technosupport/visionserve/internal/preview"
	"github.com/technosupport/visionserve/internal/rules"
	"github.com/technosupport/visionserve/internal/tracker"
	"github.com/technosupport/visionserve/internal/workerpool"
)

// DefaultMaxPipelines is MAX_PIPELINES from spec.md §4.14.
const DefaultMaxPipelines = 16

var (
	ErrCapacityExceeded = errors.New("supervisor: capacity exceeded")
	ErrAlreadyExists    = errors.New("supervisor: camera id already active")
	ErrNotFound         = errors.New("supervisor: camera id not active")
	ErrAddInProgress    = errors.New("supervisor: add/remove already in progress for this camera id")
	ErrInvalidCameraID  = errors.New("supervisor: invalid camera id")
)

// AcceleratorInfo is the GPU/NPU probe result. Absence is reported as
// Available=false, never as an error, per spec.md §4.14.
type AcceleratorInfo struct {
	Available          bool
	Name               string
	UtilizationPercent float64
	MemoryUsedMB       float64
	MemoryTotalMB      float64
}

// AcceleratorProbe is the pluggable seam the original's
// test_gpu_monitoring.cpp exercised; the default UnavailableProbe always
// reports "unavailable" non-fatally.
type AcceleratorProbe interface {
	Probe(ctx context.Context) (AcceleratorInfo, error)
}

// UnavailableProbe is the zero-dependency default accelerator probe.
type UnavailableProbe struct{}

func (UnavailableProbe) Probe(ctx context.Context) (AcceleratorInfo, error) {
	return AcceleratorInfo{Available: false}, nil
}

// HostMetrics is the aggregate snapshot returned by GetHostMetrics.
type HostMetrics struct {
	CPUPercent         float64
	Load1              float64
	NumCPU             int
	Accelerator        AcceleratorInfo
	MonitorCycleMean   time.Duration
	MonitorCycleMax    time.Duration
	ActivePipelines    int
	PortsFree          int
	PortsUsed          int
	PortPoolSize       int
	CrossCamGlobalSize int
}

// Config bundles the Supervisor's own tunables (spec.md §6, plus the
// per-pipeline defaults new cameras inherit unless overridden later
// through the per-camera setters).
type Config struct {
	MaxPipelines            int
	MonitorInterval         time.Duration // default 1000ms
	SweepInterval           time.Duration // default 5s
	DetectorParams          detector.Params
	PersonFilterParams      personfilter.Params
	TrackerConfig           tracker.Config
	PersonStatsEnabled      bool
	PipelineFrameTimeout    time.Duration
	PipelineShutdownTimeout time.Duration
	Accelerator             AcceleratorProbe
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxPipelines:            DefaultMaxPipelines,
		MonitorInterval:         time.Second,
		SweepInterval:           5 * time.Second,
		DetectorParams:          detector.Params{ConfidenceMin: 0.5, NMSIoUMax: 0.4},
		PersonFilterParams:      personfilter.DefaultParams(),
		TrackerConfig:           tracker.DefaultConfig(),
		PipelineFrameTimeout:    2 * time.Second,
		PipelineShutdownTimeout: 5 * time.Second,
		Accelerator:             UnavailableProbe{},
	}
}

type entry struct {
	pipeline *pipeline.Pipeline
	cancel   context.CancelFunc
	source   model.VideoSource
}

// Supervisor owns every Pipeline plus the process-wide shared singletons
// (PortAllocator, CrossCameraRegistry, EventSink, WorkerPool, Detector)
// per spec.md's ownership rules.
type Supervisor struct {
	cfg    Config
	logger *log.Logger

	ports      *portalloc.Allocator
	registry   *crosscam.Registry
	sink       *eventsink.Sink
	pool       *workerpool.Pool
	detBackend *detector.Detector
	guard      *lockorder.Guard

	mu        sync.Mutex
	pipelines map[string]*entry
	intents   map[string]bool

	hostSampler *hostmetrics.Sampler

	monitorMu       sync.Mutex
	lastHost        hostmetrics.Sample
	lastAccelerator AcceleratorInfo
	cycleCount      uint64
	cycleTotal      time.Duration
	cycleMax        time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Supervisor. detBackend is shared read-only across
// every Pipeline (Detector is stateless per call, per internal/detector's
// package doc); numCPU is normally runtime.NumCPU().
func New(cfg Config, ports *portalloc.Allocator, registry *crosscam.Registry, sink *eventsink.Sink, pool *workerpool.Pool, detBackend *detector.Detector, numCPU int, logger *log.Logger) (*Supervisor, error) {
	if cfg.MaxPipelines <= 0 {
		cfg.MaxPipelines = DefaultMaxPipelines
	}
	if cfg.MaxPipelines > ports.PoolSize() {
		return nil, fmt.Errorf("supervisor: max pipelines %d exceeds port pool size %d", cfg.MaxPipelines, ports.PoolSize())
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.Accelerator == nil {
		cfg.Accelerator = UnavailableProbe{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		cfg:         cfg,
		logger:      logger,
		ports:       ports,
		registry:    registry,
		sink:        sink,
		pool:        pool,
		detBackend:  detBackend,
		guard:       lockorder.New(false, logger),
		pipelines:   make(map[string]*entry),
		intents:     make(map[string]bool),
		hostSampler: hostmetrics.New(numCPU),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start launches the monitoring thread. ctx bounds the monitoring loop's
// lifetime as well as every Pipeline started through AddVideoSource.
func (s *Supervisor) Start(ctx context.Context) {
	go s.monitorLoop(ctx)
}

// Stop signals the monitoring thread to exit and stops every active
// Pipeline. It does not wait for the monitoring thread beyond a short
// grace period; Pipeline shutdown already bounds itself.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.RemoveVideoSource(context.Background(), id); err != nil {
			s.logger.Printf("supervisor: stop: remove %s: %v", id, err)
		}
	}
}

// claimIntent serializes add/remove for one camera id without holding
// the map lock during the slow construction, per spec.md §4.14.
func (s *Supervisor) claimIntent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intents[id] {
		return ErrAddInProgress
	}
	s.intents[id] = true
	return nil
}

func (s *Supervisor) releaseIntent(id string) {
	s.mu.Lock()
	delete(s.intents, id)
	s.mu.Unlock()
}

// AddVideoSource validates src, allocates a preview port, constructs and
// starts a Pipeline for it. On any failure the attempt fully unwinds
// (port released, partially-built pipeline torn down) and the map is
// left unchanged. Synchronous from the caller's perspective; the slow
// construction work runs on the WorkerPool so the Supervisor's own lock
// is never held across it.
func (s *Supervisor) AddVideoSource(ctx context.Context, src model.VideoSource) error {
	if !model.ValidCameraID(src.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidCameraID, src.ID)
	}

	s.mu.Lock()
	if _, exists := s.pipelines[src.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyExists, src.ID)
	}
	if len(s.pipelines) >= s.cfg.MaxPipelines {
		s.mu.Unlock()
		return ErrCapacityExceeded
	}
	s.mu.Unlock()

	if err := s.claimIntent(src.ID); err != nil {
		return err
	}
	defer s.releaseIntent(src.ID)

	var built *entry
	var buildErr error
	comp, err := s.pool.Submit(func() {
		built, buildErr = s.construct(ctx, src)
	})
	if err != nil {
		return fmt.Errorf("supervisor: submit add %s: %w", src.ID, err)
	}
	<-comp.Done()
	if comp.Panic() != nil {
		return fmt.Errorf("supervisor: add %s: worker panicked: %v", src.ID, comp.Panic())
	}
	if buildErr != nil {
		return buildErr
	}

	// Ascending lock order per spec.md §4.2: PortAllocator was already
	// acquired-and-released inside construct(); the map mutation below is
	// the Supervisor-level lock, strictly above it.
	tok := lockorder.NewToken()
	if err := s.guard.Acquire(tok, lockorder.LevelSupervisor, "supervisor.pipelines"); err != nil {
		built.cancel()
		built.pipeline.Stop()
		s.ports.Release(src.ID)
		return fmt.Errorf("supervisor: add %s: %w", src.ID, err)
	}
	defer s.guard.Release(tok, "supervisor.pipelines")

	s.mu.Lock()
	if _, exists := s.pipelines[src.ID]; exists {
		s.mu.Unlock()
		built.cancel()
		built.pipeline.Stop()
		s.ports.Release(src.ID)
		return fmt.Errorf("%w: %q", ErrAlreadyExists, src.ID)
	}
	if len(s.pipelines) >= s.cfg.MaxPipelines {
		s.mu.Unlock()
		built.cancel()
		built.pipeline.Stop()
		s.ports.Release(src.ID)
		return ErrCapacityExceeded
	}
	s.pipelines[src.ID] = built
	s.mu.Unlock()
	return nil
}

// construct performs the slow, I/O-free-until-Start work of building one
// Pipeline: port allocation, decoder/tracker/preview/rules construction,
// and Start. Any failure releases the port before returning.
func (s *Supervisor) construct(ctx context.Context, src model.VideoSource) (*entry, error) {
	tok := lockorder.NewToken()
	if err := s.guard.Acquire(tok, lockorder.LevelPortAllocator, "portalloc"); err != nil {
		return nil, fmt.Errorf("supervisor: construct %s: %w", src.ID, err)
	}
	_, allocErr := s.ports.Allocate(src.ID)
	_ = s.guard.Release(tok, "portalloc")
	if allocErr != nil {
		return nil, fmt.Errorf("supervisor: allocate port for %s: %w", src.ID, allocErr)
	}

	var fsrc decoder.FrameSource
	if src.Transport.URL != "" {
		fsrc = &decoder.RTSPSource{URL: src.Transport.URL, SocketTimeout: src.Transport.SocketTimeout}
	} else {
		fsrc = &decoder.SyntheticSource{Width: src.Width, Height: src.Height}
	}
	dec := decoder.New(src.ID, fsrc, decoder.Config{
		BackoffBase: src.Transport.ReconnectBase,
		BackoffMax:  src.Transport.ReconnectMax,
	}, s.logger)

	trk := tracker.New(src.ID, s.cfg.TrackerConfig, s.logger)
	prev := preview.New(0)
	ruleEng := rules.New()

	pipelineCtx, cancel := context.WithCancel(ctx)
	p, err := pipeline.New(pipeline.Config{
		CameraID:           src.ID,
		Decoder:            dec,
		Detector:           s.detBackend,
		Tracker:            trk,
		Registry:           s.registry,
		Sink:               s.sink,
		Preview:            prev,
		Rules:              ruleEng,
		DetectorParams:     s.cfg.DetectorParams,
		PersonFilterParams: s.cfg.PersonFilterParams,
		PersonStatsEnabled: s.cfg.PersonStatsEnabled,
		FrameTimeout:        s.cfg.PipelineFrameTimeout,
		ShutdownTimeout:     s.cfg.PipelineShutdownTimeout,
		Logger:              s.logger,
	})
	if err != nil {
		cancel()
		s.ports.Release(src.ID)
		return nil, fmt.Errorf("supervisor: construct pipeline %s: %w", src.ID, err)
	}

	if err := p.Start(pipelineCtx); err != nil {
		cancel()
		s.ports.Release(src.ID)
		return nil, fmt.Errorf("supervisor: start pipeline %s: %w", src.ID, err)
	}

	return &entry{pipeline: p, cancel: cancel, source: src}, nil
}

// RemoveVideoSource transitions the named Pipeline to Stopping, joins it
// within its shutdown timeout, and releases its port. Concurrent
// add/remove for the same id serializes via the intent flag.
func (s *Supervisor) RemoveVideoSource(ctx context.Context, cameraID string) error {
	if err := s.claimIntent(cameraID); err != nil {
		return err
	}
	defer s.releaseIntent(cameraID)

	s.mu.Lock()
	e, ok := s.pipelines[cameraID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	delete(s.pipelines, cameraID)
	s.mu.Unlock()

	e.cancel()
	err := e.pipeline.Stop()
	s.ports.Release(cameraID)
	return err
}

// ListActive returns the camera ids of every currently-owned Pipeline.
func (s *Supervisor) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the stats snapshot for one camera's Pipeline.
func (s *Supervisor) Get(cameraID string) (pipeline.Stats, bool) {
	s.mu.Lock()
	e, ok := s.pipelines[cameraID]
	s.mu.Unlock()
	if !ok {
		return pipeline.Stats{}, false
	}
	return e.pipeline.Stats(), true
}

// IsRunning reports whether cameraID's Pipeline is owned and running.
func (s *Supervisor) IsRunning(cameraID string) bool {
	s.mu.Lock()
	e, ok := s.pipelines[cameraID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return e.pipeline.IsRunning()
}

func (s *Supervisor) lookup(cameraID string) (*pipeline.Pipeline, bool) {
	s.mu.Lock()
	e, ok := s.pipelines[cameraID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.pipeline, true
}

// SetDetectionThresholds forwards to the named camera's Pipeline.
func (s *Supervisor) SetDetectionThresholds(cameraID string, confMin, nmsMax float64) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetDetectionThresholds(confMin, nmsMax)
	return nil
}

// SetEnabledClasses forwards to the named camera's Pipeline.
func (s *Supervisor) SetEnabledClasses(cameraID string, classes map[int]bool) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetEnabledClasses(classes)
	return nil
}

// SetPersonStatsEnabled forwards to the named camera's Pipeline.
func (s *Supervisor) SetPersonStatsEnabled(cameraID string, enabled bool) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetPersonStatsEnabled(enabled)
	return nil
}

// SetPersonStatsConfig forwards to the named camera's Pipeline.
func (s *Supervisor) SetPersonStatsConfig(cameraID string, params personfilter.Params) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetPersonStatsConfig(params)
	return nil
}

// SetROIs forwards to the named camera's Pipeline.
func (s *Supervisor) SetROIs(cameraID string, rois []model.ROI) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetROIs(rois)
	return nil
}

// SetRules forwards to the named camera's Pipeline.
func (s *Supervisor) SetRules(cameraID string, r []model.Rule) error {
	p, ok := s.lookup(cameraID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, cameraID)
	}
	p.SetRules(r)
	return nil
}

// TestSource probes reachability of src without adding it permanently,
// running on the WorkerPool since it is I/O-bound.
func (s *Supervisor) TestSource(ctx context.Context, src model.VideoSource) error {
	var testErr error
	comp, err := s.pool.Submit(func() {
		rs := &decoder.RTSPSource{URL: src.Transport.URL, SocketTimeout: src.Transport.SocketTimeout}
		if connErr := rs.Connect(ctx); connErr != nil {
			testErr = connErr
			return
		}
		testErr = rs.Close()
	})
	if err != nil {
		return fmt.Errorf("supervisor: submit test %s: %w", src.ID, err)
	}
	<-comp.Done()
	if comp.Panic() != nil {
		return fmt.Errorf("supervisor: test %s: worker panicked: %v", src.ID, comp.Panic())
	}
	return testErr
}

// GetHostMetrics returns the most recent monitoring-loop sample.
func (s *Supervisor) GetHostMetrics() HostMetrics {
	s.monitorMu.Lock()
	host := s.lastHost
	accel := s.lastAccelerator
	mean := time.Duration(0)
	if s.cycleCount > 0 {
		mean = s.cycleTotal / time.Duration(s.cycleCount)
	}
	max := s.cycleMax
	s.monitorMu.Unlock()

	portStats := s.ports.Stats()

	return HostMetrics{
		CPUPercent:         host.CPUPercent,
		Load1:              host.Load1,
		NumCPU:             host.NumCPU,
		Accelerator:        accel,
		MonitorCycleMean:   mean,
		MonitorCycleMax:    max,
		ActivePipelines:    len(s.ListActive()),
		PortsFree:          portStats.Free,
		PortsUsed:          portStats.Used,
		PortPoolSize:       portStats.PoolSize,
		CrossCamGlobalSize: s.registry.Count(),
	}
}

// monitorLoop samples host metrics every MonitorInterval and sweeps the
// CrossCameraRegistry every SweepInterval, per spec.md §4.14.
func (s *Supervisor) monitorLoop(ctx context.Context) {
	defer close(s.doneCh)

	monitorTicker := time.NewTicker(s.cfg.MonitorInterval)
	defer monitorTicker.Stop()
	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			s.registry.Sweep()
		case <-monitorTicker.C:
			s.runMonitorCycle(ctx)
		}
	}
}

func (s *Supervisor) runMonitorCycle(ctx context.Context) {
	start := time.Now()

	sample, err := s.hostSampler.Sample()
	if err != nil {
		s.logger.Printf("supervisor: host sample: %v", err)
	}
	accel, err := s.cfg.Accelerator.Probe(ctx)
	if err != nil {
		s.logger.Printf("supervisor: accelerator probe: %v", err)
		accel = AcceleratorInfo{Available: false}
	}

	cycle := time.Since(start)

	s.monitorMu.Lock()
	s.lastHost = sample
	s.lastAccelerator = accel
	s.cycleCount++
	s.cycleTotal += cycle
	if cycle > s.cycleMax {
		s.cycleMax = cycle
	}
	s.monitorMu.Unlock()
}
