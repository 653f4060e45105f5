// Package crosscam implements the CrossCameraRegistry of spec.md §4.10:
// a single-lock, process-wide table of GlobalTracks that fuses per-camera
// LocalTracks into stable cross-camera identities by reid similarity.
// Its lock sits at lockorder.LevelCrossCameraRegistry; callers that also
// hold a higher-level lock (Pipeline, Supervisor) must release it before
// calling in, never the reverse.
package crosscam

import (
	"log"
	"sync"
	"time"

	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/reid"
)

// Config bundles the tunables named in spec.md §4.10 / §6.
type Config struct {
	ReIDThreshold   float64       // τ_reid, default 0.7
	Beta            float64       // fusion moving-average weight, default 0.9
	MaxGlobalTracks int           // default 1000
	MaxTrackAge     time.Duration // sweep expiry, default 30s
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{ReIDThreshold: 0.7, Beta: 0.9, MaxGlobalTracks: 1000, MaxTrackAge: 30 * time.Second}
}

type localKey struct {
	cameraID string
	localID  uint64
}

// Registry holds all GlobalTracks under a single mutex.
type Registry struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	tracks  map[uint64]*model.GlobalTrack
	byLocal map[localKey]uint64
	nextID  uint64
}

// New constructs an empty Registry.
func New(cfg Config, logger *log.Logger) *Registry {
	if cfg.ReIDThreshold <= 0 {
		cfg.ReIDThreshold = 0.7
	}
	if cfg.Beta <= 0 {
		cfg.Beta = 0.9
	}
	if cfg.MaxGlobalTracks <= 0 {
		cfg.MaxGlobalTracks = 1000
	}
	if cfg.MaxTrackAge <= 0 {
		cfg.MaxTrackAge = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		tracks:  make(map[uint64]*model.GlobalTrack),
		byLocal: make(map[localKey]uint64),
	}
}

// Report binds (cameraID, localID) to a GlobalTrack, reusing an existing
// binding when present, otherwise matching by fused-reid cosine
// similarity against the active set (excluding tracks that already
// contain cameraID, per the at-most-one-local-per-camera invariant), or
// minting a new GlobalTrack when nothing clears the threshold.
func (r *Registry) Report(cameraID string, localID uint64, vec model.ReIDVector, bbox model.BBox, classID int, confidence float64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := localKey{cameraID, localID}

	if gid, ok := r.byLocal[key]; ok {
		if gt, ok := r.tracks[gid]; ok {
			r.refreshLocked(gt, vec, bbox, confidence, now)
			return gid
		}
		delete(r.byLocal, key)
	}

	bestID, bestSim := r.bestMatchLocked(vec, cameraID)
	if bestID != 0 && bestSim >= r.cfg.ReIDThreshold {
		gt := r.tracks[bestID]
		gt.Locals[cameraID] = localID
		r.byLocal[key] = bestID
		r.refreshLocked(gt, vec, bbox, confidence, now)
		return bestID
	}

	r.nextID++
	gid := r.nextID
	gt := &model.GlobalTrack{
		GlobalID:        gid,
		PrimaryCameraID: cameraID,
		ClassID:         classID,
		FusedReID:       vec,
		LastBBox:        bbox,
		LastConfidence:  confidence,
		Locals:          map[string]uint64{cameraID: localID},
		FirstSeen:       now,
		LastSeen:        now,
	}
	r.tracks[gid] = gt
	r.byLocal[key] = gid
	r.evictIfOverCapacityLocked()
	return gid
}

func (r *Registry) refreshLocked(gt *model.GlobalTrack, vec model.ReIDVector, bbox model.BBox, confidence float64, now time.Time) {
	var zero model.ReIDVector
	if vec != zero {
		gt.FusedReID = reid.Blend(gt.FusedReID, vec, r.cfg.Beta)
	}
	gt.LastBBox = bbox
	gt.LastConfidence = confidence
	gt.LastSeen = now
}

// bestMatchLocked finds the GlobalTrack (excluding any already bound to
// excludeCamera) with highest cosine similarity to vec. Ties break
// toward the lowest lastSeen age, i.e. the most recently refreshed track.
func (r *Registry) bestMatchLocked(vec model.ReIDVector, excludeCamera string) (uint64, float64) {
	var bestID uint64
	var bestSim float64 = -2
	var bestLastSeen time.Time

	for gid, gt := range r.tracks {
		if _, has := gt.Locals[excludeCamera]; has {
			continue
		}
		sim := reid.Cosine(gt.FusedReID, vec)
		if sim > bestSim || (sim == bestSim && gt.LastSeen.After(bestLastSeen)) {
			bestSim = sim
			bestID = gid
			bestLastSeen = gt.LastSeen
		}
	}
	return bestID, bestSim
}

func (r *Registry) evictIfOverCapacityLocked() {
	for len(r.tracks) > r.cfg.MaxGlobalTracks {
		var oldestID uint64
		var oldestSeen time.Time
		first := true
		for gid, gt := range r.tracks {
			if first || gt.LastSeen.Before(oldestSeen) {
				oldestID = gid
				oldestSeen = gt.LastSeen
				first = false
			}
		}
		r.removeLocked(oldestID)
	}
}

func (r *Registry) removeLocked(gid uint64) {
	gt, ok := r.tracks[gid]
	if !ok {
		return
	}
	for cam, loc := range gt.Locals {
		delete(r.byLocal, localKey{cam, loc})
	}
	delete(r.tracks, gid)
}

// Lookup returns the GlobalID bound to (cameraID, localID), if any.
func (r *Registry) Lookup(cameraID string, localID uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gid, ok := r.byLocal[localKey{cameraID, localID}]
	return gid, ok
}

// Match pairs a GlobalID with its similarity to a query vector.
type Match struct {
	GlobalID   uint64
	Similarity float64
}

// FindMatches returns every GlobalTrack not bound to excludeCameraID,
// sorted by similarity to vec descending.
func (r *Registry) FindMatches(vec model.ReIDVector, excludeCameraID string) []Match {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Match, 0, len(r.tracks))
	for gid, gt := range r.tracks {
		if _, has := gt.Locals[excludeCameraID]; has {
			continue
		}
		out = append(out, Match{GlobalID: gid, Similarity: reid.Cosine(gt.FusedReID, vec)})
	}
	sortMatchesDesc(out)
	return out
}

func sortMatchesDesc(m []Match) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].Similarity > m[j-1].Similarity; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// Sweep removes GlobalTracks not seen within MaxTrackAge.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var expired []uint64
	for gid, gt := range r.tracks {
		if now.Sub(gt.LastSeen) > r.cfg.MaxTrackAge {
			expired = append(expired, gid)
		}
	}
	for _, gid := range expired {
		r.removeLocked(gid)
	}
	return len(expired)
}

// Count returns the number of live GlobalTracks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}

// Get returns a copy of the GlobalTrack for gid, if present.
func (r *Registry) Get(gid uint64) (model.GlobalTrack, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	gt, ok := r.tracks[gid]
	if !ok {
		return model.GlobalTrack{}, false
	}
	return *gt, true
}
