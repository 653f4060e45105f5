// Package pipeline implements the per-camera Pipeline of spec.md §4.13:
// a single-threaded stage loop (decode → detect → filter → reid →
// track → cross-camera report → attributes → rules → emit → preview)
// owned by one goroutine, with a small state machine the Supervisor
// drives from outside. Grounded on internal/nvr/health_monitor.go's
// ticking-loop-plus-mutex-guarded-stats shape in the teacher repo — the
// same "one goroutine owns the loop, everything else reads a snapshot
// under a mutex" structure, generalized from camera health polling to
// the full per-frame analytics loop.
package pipeline

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/visionserve/internal/attributes"
	"github.com/technosupport/visionserve/internal/crosscam"
	"github.com/technosupport/visionserve/internal/decoder"
	"github.com/technosupport/visionserve/internal/detector"
	"github.com/technosupport/visionserve/internal/eventsink"
	"github.com/technosupport/visionserve/internal/metrics"
	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/personfilter"
	"github.com/technosupport/visionserve/internal/preview"
	"github.com/technosupport/visionserve/internal/reid"
	"github.com/technosupport/visionserve/internal/rules"
	"github.com/technosupport/visionserve/internal/tracker"
)

const personClassID = 0

// Config bundles everything one Pipeline needs. Registry and Sink are
// shared across every camera's Pipeline; everything else is owned
// exclusively by this one.
type Config struct {
	CameraID string
	Decoder  *decoder.Decoder
	Detector *detector.Detector
	Tracker  *tracker.Tracker
	Registry *crosscam.Registry
	Sink     *eventsink.Sink
	Preview  *preview.Encoder
	Rules    *rules.Engine

	// Attributes is optional; a nil value (or PersonStatsEnabled=false)
	// means the attribute-analysis stage is skipped entirely.
	Attributes *attributes.Analyzer

	DetectorParams      detector.Params
	PersonFilterParams  personfilter.Params
	PersonStatsEnabled  bool
	FrameTimeout        time.Duration // default 2s
	ShutdownTimeout     time.Duration // default 5s
	Logger              *log.Logger
}

// Pipeline owns C4-C12 for one camera.
type Pipeline struct {
	cameraID string
	logger   *log.Logger

	dec      *decoder.Decoder
	det      *detector.Detector
	trk      *tracker.Tracker
	registry *crosscam.Registry
	sink     *eventsink.Sink
	preview  *preview.Encoder
	ruleEng  *rules.Engine
	attr     *attributes.Analyzer

	frameTimeout    time.Duration
	shutdownTimeout time.Duration

	cfgMu         sync.RWMutex
	detParams     detector.Params
	pfParams      personfilter.Params
	personStatsOn bool

	stateMu sync.Mutex
	state   State

	statsMu        sync.Mutex
	processed      uint64
	dropped        uint64
	startedAt      time.Time
	lastError      string
	windowStart    time.Time
	windowFrames   uint64
	fps            float64

	personStatsMu sync.Mutex
	personStats   PersonStats

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// New validates cfg and constructs a Pipeline in State New. It does not
// start the stage loop.
func New(cfg Config) (*Pipeline, error) {
	if cfg.CameraID == "" {
		return nil, fmt.Errorf("pipeline: camera id required")
	}
	if cfg.Decoder == nil || cfg.Detector == nil || cfg.Tracker == nil || cfg.Registry == nil || cfg.Sink == nil || cfg.Preview == nil || cfg.Rules == nil {
		return nil, fmt.Errorf("pipeline[%s]: missing required component", cfg.CameraID)
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Pipeline{
		cameraID:        cfg.CameraID,
		logger:          cfg.Logger,
		dec:             cfg.Decoder,
		det:             cfg.Detector,
		trk:             cfg.Tracker,
		registry:        cfg.Registry,
		sink:            cfg.Sink,
		preview:         cfg.Preview,
		ruleEng:         cfg.Rules,
		attr:            cfg.Attributes,
		frameTimeout:    cfg.FrameTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		detParams:       cfg.DetectorParams,
		pfParams:        cfg.PersonFilterParams,
		personStatsOn:   cfg.PersonStatsEnabled,
		state:           StateNew,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		personStats:     newPersonStats(),
	}, nil
}

// Start transitions New -> Starting -> Running and spawns the stage
// loop goroutine. Calling Start twice is an error.
func (p *Pipeline) Start(ctx context.Context) error {
	p.stateMu.Lock()
	if p.state != StateNew {
		p.stateMu.Unlock()
		return fmt.Errorf("pipeline[%s]: already started (state=%s)", p.cameraID, p.state)
	}
	p.state = StateStarting
	p.stateMu.Unlock()

	p.statsMu.Lock()
	p.startedAt = time.Now()
	p.windowStart = p.startedAt
	p.statsMu.Unlock()

	p.setState(StateRunning)

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

// Stop requests the stage loop to exit and joins it within
// shutdownTimeout. The decoder is closed to unblock any in-flight
// Next() call. Idempotent.
func (p *Pipeline) Stop() error {
	p.setState(StateStopping)
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.dec.Close()

	select {
	case <-p.doneCh:
		p.setState(StateStopped)
		return nil
	case <-time.After(p.shutdownTimeout):
		p.logger.Printf("pipeline[%s]: stop timed out after %v, stage loop still running", p.cameraID, p.shutdownTimeout)
		return fmt.Errorf("pipeline[%s]: stop timed out", p.cameraID)
	}
}

// IsRunning reports whether the stage loop is active (including while
// Degraded — only Stopping/Stopped/New/Starting count as not running).
func (p *Pipeline) IsRunning() bool {
	switch p.getState() {
	case StateRunning, StateDegraded:
		return true
	default:
		return false
	}
}

// IsHealthy reports whether the decoder is currently delivering frames.
func (p *Pipeline) IsHealthy() bool {
	return p.getState() != StateDegraded
}

func (p *Pipeline) getState() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.stateMu.Lock()
	changed := p.state != s
	p.state = s
	p.stateMu.Unlock()
	if changed {
		metrics.SetPipelineState(p.cameraID, int(s))
	}
}

// run is the single-threaded stage loop; it owns ctx for its entire
// lifetime and exits when stopCh closes, ctx is cancelled, or a fatal
// error occurs.
func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.doneCh)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		p.stepOnce(ctx)
	}
}

func (p *Pipeline) stepOnce(ctx context.Context) {
	start := time.Now()

	f, result, err := p.dec.Next(ctx, p.frameTimeout)
	switch result {
	case decoder.ResultTimeout:
		return
	case decoder.ResultEndOfStream:
		p.setState(StateDegraded)
		return
	case decoder.ResultError:
		p.recordError(err)
		if p.getState() != StateStopping && p.getState() != StateStopped {
			p.setState(StateDegraded)
		}
		return
	}

	if p.dec.State() == decoder.StateDegraded {
		p.setState(StateDegraded)
	} else if p.getState() == StateDegraded {
		p.setState(StateRunning)
	}

	dets, err := p.det.Detect(ctx, f, p.currentDetectorParams())
	if err != nil {
		p.logger.Printf("pipeline[%s]: detect: %v", p.cameraID, err)
		p.recordError(err)
		p.recordDropped(1)
		return
	}
	metrics.RecordInferenceLatency(p.det.Info().Kind, float64(time.Since(start).Milliseconds()))

	fW, fH := f.Width, f.Height
	crops := personfilter.SelectIndexed(dets, fW, fH, p.currentPersonFilterParams())

	reids := make([]model.ReIDVector, len(dets))
	personCrops := make(map[model.BBox]model.PersonCrop, len(crops))
	for _, c := range crops {
		det := dets[c.DetIdx]
		pc := cropFrame(f, c.Box, det)
		reids[c.DetIdx] = reid.Extract(pc)
		personCrops[det.BBox] = pc
	}

	tracks := p.trk.Update(dets, reids)

	snapshots := make([]rules.TrackSnapshot, 0, len(tracks))
	batchCrops := make([]model.PersonCrop, 0, len(personCrops))
	batchGlobalIDs := make([]uint64, 0, len(personCrops))
	batchSeqs := make([]uint64, 0, len(personCrops))

	for _, tr := range tracks {
		var vec model.ReIDVector
		if len(tr.ReIDHistory) > 0 {
			vec = tr.ReIDHistory[len(tr.ReIDHistory)-1]
		}
		tr.GlobalID = p.registry.Report(p.cameraID, tr.LocalID, vec, tr.LastBBox, tr.ClassID, tr.LastConfidence)
		snapshots = append(snapshots, rules.TrackSnapshot{GlobalTrackID: tr.GlobalID, ClassID: tr.ClassID, BBox: tr.LastBBox})

		if tr.ClassID == personClassID {
			if pc, ok := personCrops[tr.LastBBox]; ok {
				batchCrops = append(batchCrops, pc)
				batchGlobalIDs = append(batchGlobalIDs, tr.GlobalID)
				batchSeqs = append(batchSeqs, f.Seq)
			}
		}
	}
	metrics.SetCrossCamSize(p.registry.Count())

	var attrs []model.PersonAttributes
	if p.currentPersonStatsEnabled() && p.attr != nil && len(batchCrops) > 0 {
		attrs = p.attr.Analyze(ctx, batchCrops, batchGlobalIDs, batchSeqs)
		p.updatePersonStats(attrs)
	} else if p.currentPersonStatsEnabled() {
		p.updatePersonStats(nil)
	}

	now := time.Now()
	events := p.ruleEng.Evaluate(p.cameraID, snapshots, now)
	for i := range events {
		events[i].EventID = uuid.NewString()
		p.sink.Emit(events[i])
	}

	overlays := make([]preview.Overlay, 0, len(tracks))
	for _, tr := range tracks {
		overlays = append(overlays, preview.Overlay{
			Box:   tr.LastBBox,
			Color: overlayColorFor(tr.ClassID),
			Label: fmt.Sprintf("#%d %.0f%%", tr.GlobalID, tr.LastConfidence*100),
		})
	}
	if err := p.preview.Publish(f, overlays); err != nil {
		p.logger.Printf("pipeline[%s]: preview publish: %v", p.cameraID, err)
	}

	p.recordProcessed(time.Since(start))
}

func overlayColorFor(classID int) color.RGBA {
	if classID == personClassID {
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	}
	return color.RGBA{R: 255, G: 165, B: 0, A: 255}
}

func (p *Pipeline) recordError(err error) {
	if err == nil {
		return
	}
	p.statsMu.Lock()
	p.lastError = err.Error()
	p.statsMu.Unlock()
}

func (p *Pipeline) recordDropped(n int) {
	p.statsMu.Lock()
	p.dropped += uint64(n)
	p.statsMu.Unlock()
	metrics.RecordFrameDropped(p.cameraID, n)
}

func (p *Pipeline) recordProcessed(latency time.Duration) {
	p.statsMu.Lock()
	p.processed++
	p.windowFrames++
	elapsed := time.Since(p.windowStart)
	if elapsed >= time.Second {
		p.fps = float64(p.windowFrames) / elapsed.Seconds()
		p.windowFrames = 0
		p.windowStart = time.Now()
	}
	fps := p.fps
	p.statsMu.Unlock()

	metrics.RecordFrameProcessed(p.cameraID, float64(latency.Milliseconds()))
	metrics.SetPipelineFPS(p.cameraID, fps)
}

// Stats returns the rolling health/throughput snapshot.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	uptime := 0.0
	if !p.startedAt.IsZero() {
		uptime = time.Since(p.startedAt).Seconds()
	}
	return Stats{
		State:     p.getState(),
		FPS:       p.fps,
		Processed: p.processed,
		Dropped:   p.dropped,
		Uptime:    uptime,
		LastError: p.lastError,
	}
}

func (p *Pipeline) currentDetectorParams() detector.Params {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.detParams
}

func (p *Pipeline) currentPersonFilterParams() personfilter.Params {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.pfParams
}

func (p *Pipeline) currentPersonStatsEnabled() bool {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.personStatsOn
}

// SetEnabledClasses replaces the set of class ids the detector keeps.
func (p *Pipeline) SetEnabledClasses(classes map[int]bool) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	p.detParams.EnabledClasses = classes
}

// SetDetectionThresholds updates the confidence floor and NMS ceiling.
func (p *Pipeline) SetDetectionThresholds(confMin, nmsMax float64) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	p.detParams.ConfidenceMin = confMin
	p.detParams.NMSIoUMax = nmsMax
}

// SetPersonStatsEnabled toggles the attribute-analysis stage.
func (p *Pipeline) SetPersonStatsEnabled(enabled bool) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	p.personStatsOn = enabled
}

// SetPersonStatsConfig updates the person-crop padding/alignment rules
// fed to both the reid and attribute stages.
func (p *Pipeline) SetPersonStatsConfig(params personfilter.Params) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	p.pfParams = params
}

// SetROIs replaces the camera's regions of interest.
func (p *Pipeline) SetROIs(rois []model.ROI) {
	p.ruleEng.SetROIs(rois)
}

// SetRules replaces the camera's rule set.
func (p *Pipeline) SetRules(r []model.Rule) {
	p.ruleEng.SetRules(r)
}

// CurrentFramePersonStats returns the most recently computed aggregated
// person-attribute counts; zero-valued before the first analyzed batch.
func (p *Pipeline) CurrentFramePersonStats() PersonStats {
	p.personStatsMu.Lock()
	defer p.personStatsMu.Unlock()
	return p.personStats
}

func (p *Pipeline) updatePersonStats(attrs []model.PersonAttributes) {
	stats := newPersonStats()
	var qualitySum float64
	for _, a := range attrs {
		stats.Total++
		stats.ByGender[a.Gender.String()]++
		stats.ByAge[a.Age.String()]++
		if a.Race != "" {
			stats.ByRace[a.Race]++
		}
		if a.Mask {
			stats.MaskedCount++
		}
		qualitySum += a.Quality
	}
	if stats.Total > 0 {
		stats.AvgQuality = qualitySum / float64(stats.Total)
	}

	p.personStatsMu.Lock()
	p.personStats = stats
	p.personStatsMu.Unlock()
}
