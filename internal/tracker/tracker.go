// Package tracker implements the per-camera multi-object tracker of
// spec.md §4.8: predict, cascade-associate (Hungarian on a blended
// IoU/reid cost, then an IoU-only second pass), update, promote and
// demote/delete. It owns no network or disk resource and reports
// internal failures by logging and skipping the frame, never by
// propagating an error to the Pipeline loop.
package tracker

import (
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/reid"
)

// Config bundles the tunables named in spec.md §4.8 / §6.
type Config struct {
	Alpha           float64 // IoU vs reid cost weight, default 0.7
	IoUGate1        float64 // first-pass IoU gate, default 0.3
	ReIDGate        float64 // first-pass cosine gate (τ_reid), default 0.7
	IoUGate2        float64 // second-pass IoU-only gate, default 0.5
	PromoteHits     int     // H, default 3
	DemoteAfter     int     // L frames unmatched, default 30
	DeleteAfter     int     // maxLostFrames, default 150
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		Alpha: 0.7, IoUGate1: 0.3, ReIDGate: 0.7, IoUGate2: 0.5,
		PromoteHits: 3, DemoteAfter: 30, DeleteAfter: 150,
	}
}

type entry struct {
	track  *model.LocalTrack
	vx, vy float64 // center velocity in pixels/frame, constant-velocity model
}

// Tracker owns the mutable track set for one camera. Update is intended
// to be called from a single stage-loop goroutine per spec.md §5's
// "single-threaded per pipeline" scheduling model; the mutex exists for
// safe concurrent reads from status/metrics endpoints.
type Tracker struct {
	cameraID string
	cfg      Config
	logger   *log.Logger

	mu      sync.Mutex
	entries []*entry
	nextID  uint64
}

// New constructs a Tracker for one camera.
func New(cameraID string, cfg Config, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{cameraID: cameraID, cfg: cfg, logger: logger}
}

// Update advances the track set by one frame given this frame's
// detections and parallel (optional, zero-value meaning absent) reid
// vectors. It never panics out to the caller: a recovered panic is
// logged and the track set is returned as it stands at that point,
// which may include changes made earlier in the same Update.
func (t *Tracker) Update(dets []model.Detection, reids []model.ReIDVector) (out []*model.LocalTrack) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("tracker[%s]: recovered from %v, skipping frame", t.cameraID, r)
			out = t.snapshotLocked()
		}
	}()

	t.updateLocked(dets, reids)
	out = t.snapshotLocked()
	return out
}

func (t *Tracker) snapshotLocked() []*model.LocalTrack {
	out := make([]*model.LocalTrack, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.track
	}
	return out
}

func hasReID(reids []model.ReIDVector, i int) bool {
	if i >= len(reids) {
		return false
	}
	var zero model.ReIDVector
	return reids[i] != zero
}

func (t *Tracker) updateLocked(dets []model.Detection, reids []model.ReIDVector) {
	now := time.Now()
	t.predictLocked()

	matchedDet := make([]bool, len(dets))

	var confirmedIdx []int
	var tentativeIdx []int
	for i, e := range t.entries {
		switch e.track.State {
		case model.TrackConfirmed:
			confirmedIdx = append(confirmedIdx, i)
		case model.TrackTentative:
			tentativeIdx = append(tentativeIdx, i)
		}
	}

	// First pass: confirmed tracks vs all detections, blended cost.
	firstMatches := t.associate(confirmedIdx, dets, reids, matchedDet, true)
	for entryIdx, detIdx := range firstMatches {
		t.applyMatch(entryIdx, dets[detIdx], reids, detIdx, now)
		matchedDet[detIdx] = true
	}

	// Second pass: tentative tracks vs detections left unmatched, IoU only.
	secondMatches := t.associate(tentativeIdx, dets, reids, matchedDet, false)
	for entryIdx, detIdx := range secondMatches {
		t.applyMatch(entryIdx, dets[detIdx], reids, detIdx, now)
		matchedDet[detIdx] = true
	}

	t.ageUnmatchedLocked(firstMatches, secondMatches)
	t.promoteLocked()
	t.spawnNewLocked(dets, reids, matchedDet, now)
	t.pruneLocked()
}

func (t *Tracker) predictLocked() {
	for _, e := range t.entries {
		if e.track.State != model.TrackConfirmed {
			continue
		}
		cx, cy := e.track.LastBBox.Center()
		cx += e.vx
		cy += e.vy
		e.track.LastBBox.X = int(cx - float64(e.track.LastBBox.W)/2)
		e.track.LastBBox.Y = int(cy - float64(e.track.LastBBox.H)/2)
	}
}

// associate builds a cost matrix for the given entry indices against
// unmatched detections and solves it with the Hungarian algorithm, then
// filters out any assignment that fails the gate for this pass.
func (t *Tracker) associate(entryIdx []int, dets []model.Detection, reids []model.ReIDVector, matchedDet []bool, blended bool) map[int]int {
	out := make(map[int]int)
	if len(entryIdx) == 0 {
		return out
	}

	var candDet []int
	for i, used := range matchedDet {
		if !used {
			candDet = append(candDet, i)
		}
	}
	if len(candDet) == 0 {
		return out
	}

	cost := make([][]float64, len(entryIdx))
	gateOK := make([][]bool, len(entryIdx))
	for r, ei := range entryIdx {
		cost[r] = make([]float64, len(candDet))
		gateOK[r] = make([]bool, len(candDet))
		track := t.entries[ei].track
		for c, di := range candDet {
			det := dets[di]
			iou := track.LastBBox.IoU(det.BBox)

			if blended {
				cos := 0.0
				haveReID := hasReID(reids, di) && len(track.ReIDHistory) > 0
				if haveReID {
					cos = reid.Cosine(track.ReIDHistory[len(track.ReIDHistory)-1], reids[di])
				}
				gate := iou >= t.cfg.IoUGate1 || (haveReID && cos >= t.cfg.ReIDGate)
				gateOK[r][c] = gate
				reidCost := 1 - cos
				if !haveReID {
					reidCost = 1 // no reid evidence: treat as maximally dissimilar, weighted by (1-alpha)
				}
				c1 := t.cfg.Alpha*(1-iou) + (1-t.cfg.Alpha)*reidCost
				c1 -= det.Confidence * 1e-6
				c1 -= float64(di) * 1e-9
				cost[r][c] = c1
			} else {
				gateOK[r][c] = iou >= t.cfg.IoUGate2
				c1 := 1 - iou
				c1 -= det.Confidence * 1e-6
				c1 -= float64(di) * 1e-9
				cost[r][c] = c1
			}

			if !gateOK[r][c] {
				cost[r][c] = math.Inf(1)
			}
		}
	}

	assignment := hungarian(cost)
	for r, c := range assignment {
		if c < 0 {
			continue
		}
		if !gateOK[r][c] {
			continue
		}
		out[entryIdx[r]] = candDet[c]
	}
	return out
}

func (t *Tracker) applyMatch(entryIdx int, det model.Detection, reids []model.ReIDVector, detIdx int, now time.Time) {
	e := t.entries[entryIdx]
	e.track.LastBBox = det.BBox
	e.track.LastConfidence = det.Confidence
	e.track.LastSeen = now
	e.track.AgeSinceMatch = 0
	e.track.ConsecutiveHits++
	if hasReID(reids, detIdx) {
		e.track.PushReID(reids[detIdx])
	}
}

func (t *Tracker) ageUnmatchedLocked(firstMatches, secondMatches map[int]int) {
	for i, e := range t.entries {
		_, hit1 := firstMatches[i]
		_, hit2 := secondMatches[i]
		if hit1 || hit2 {
			continue
		}
		switch e.track.State {
		case model.TrackConfirmed:
			e.track.AgeSinceMatch++
			if e.track.AgeSinceMatch > t.cfg.DemoteAfter {
				e.track.State = model.TrackLost
			}
		case model.TrackLost:
			e.track.AgeSinceMatch++
		case model.TrackTentative:
			e.track.AgeSinceMatch++
			e.track.ConsecutiveHits = 0
		}
	}
}

func (t *Tracker) promoteLocked() {
	for _, e := range t.entries {
		if e.track.State == model.TrackTentative && e.track.ConsecutiveHits >= t.cfg.PromoteHits {
			e.track.State = model.TrackConfirmed
		}
	}
}

func (t *Tracker) spawnNewLocked(dets []model.Detection, reids []model.ReIDVector, matchedDet []bool, now time.Time) {
	for i, used := range matchedDet {
		if used {
			continue
		}
		track := &model.LocalTrack{
			CameraID:        t.cameraID,
			LocalID:         t.nextLocalIDLocked(),
			ClassID:         dets[i].ClassID,
			LastBBox:        dets[i].BBox,
			FirstSeen:       now,
			LastSeen:        now,
			State:           model.TrackTentative,
			ConsecutiveHits: 1,
			LastConfidence:  dets[i].Confidence,
		}
		if hasReID(reids, i) {
			track.PushReID(reids[i])
		}
		t.entries = append(t.entries, &entry{track: track})
	}
}

func (t *Tracker) nextLocalIDLocked() uint64 {
	t.nextID++
	return t.nextID
}

func (t *Tracker) pruneLocked() {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.track.State == model.TrackLost && e.track.AgeSinceMatch > t.cfg.DeleteAfter {
			continue
		}
		if e.track.State == model.TrackTentative && e.track.AgeSinceMatch > t.cfg.DemoteAfter {
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].track.LocalID < t.entries[j].track.LocalID
	})
}

// Snapshot returns the current track set without advancing state.
func (t *Tracker) Snapshot() []*model.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}
