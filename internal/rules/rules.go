// Package rules implements the RuleEngine of spec.md §4.11: intrusion,
// dwell, line-cross and loitering predicates evaluated per frame against
// a camera's ROIs and rules, with per-(rule, track) debounce. ROI/rule
// definitions are YAML (gopkg.in/yaml.v3, the same config library the
// teacher uses) and can be hot-reloaded from disk via fsnotify, grounded
// on internal/license/watcher.go's watch-with-polling-fallback pattern.
package rules

import (
	"time"

	"github.com/technosupport/visionserve/internal/model"
)

// trackMovement is the sliding window of recent centroid positions kept
// per (ruleID, trackID) for the loitering predicate.
type trackMovement struct {
	points []movementPoint
}

type movementPoint struct {
	at   time.Time
	x, y float64
}

// Engine evaluates one camera's rules against its current global tracks.
// Not safe for concurrent Evaluate calls from multiple goroutines; it is
// owned by a single Pipeline stage loop per spec.md §5.
type Engine struct {
	rois  map[string]model.ROI
	rules []model.Rule

	lastEmit map[string]time.Time     // "ruleID|trackID" -> last emission time
	dwell    map[string]time.Time     // "ruleID|trackID" -> entry time into polygon
	movement map[string]*trackMovement
	lineSide map[string]float64 // "ruleID|trackID" -> signed side of the line at last frame
}

// New constructs an empty Engine; call SetROIs/SetRules to populate it.
func New() *Engine {
	return &Engine{
		lastEmit: make(map[string]time.Time),
		dwell:    make(map[string]time.Time),
		movement: make(map[string]*trackMovement),
		lineSide: make(map[string]float64),
	}
}

// SetROIs replaces the ROI set, keyed by ID.
func (e *Engine) SetROIs(rois []model.ROI) {
	m := make(map[string]model.ROI, len(rois))
	for _, r := range rois {
		m[r.ID] = r
	}
	e.rois = m
}

// SetRules replaces the active rule set.
func (e *Engine) SetRules(rules []model.Rule) {
	e.rules = rules
}

// TrackSnapshot is the minimal per-track state the engine needs: its
// centroid and bbox, already resolved to a GlobalTrack id.
type TrackSnapshot struct {
	GlobalTrackID uint64
	ClassID       int
	BBox          model.BBox
}

// Evaluate runs every active rule against the given tracks at time now,
// returning one Event per satisfied, non-debounced rule/track pair.
func (e *Engine) Evaluate(cameraID string, tracks []TrackSnapshot, now time.Time) []model.Event {
	var events []model.Event
	for _, rule := range e.rules {
		if rule.CameraID != cameraID {
			continue
		}
		for _, tr := range tracks {
			if rule.ClassFilter != nil && !rule.ClassFilter[tr.ClassID] {
				continue
			}
			if !e.predicateHolds(rule, tr, now) {
				continue
			}
			if e.debounced(rule, tr.GlobalTrackID, now) {
				continue
			}
			events = append(events, model.Event{
				CameraID:      cameraID,
				RuleID:        rule.ID,
				ClassID:       tr.ClassID,
				GlobalTrackID: tr.GlobalTrackID,
				Timestamp:     now,
				Score:         1,
			})
			e.markEmitted(rule, tr.GlobalTrackID, now)
		}
	}
	return events
}

func debounceKey(ruleID string, trackID uint64) string {
	return ruleID + "|" + uint64ToString(trackID)
}

func uint64ToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (e *Engine) debounced(rule model.Rule, trackID uint64, now time.Time) bool {
	interval := rule.DebounceInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	key := debounceKey(rule.ID, trackID)
	last, ok := e.lastEmit[key]
	if !ok {
		return false
	}
	return now.Sub(last) < interval
}

func (e *Engine) markEmitted(rule model.Rule, trackID uint64, now time.Time) {
	e.lastEmit[debounceKey(rule.ID, trackID)] = now
}

func (e *Engine) predicateHolds(rule model.Rule, tr TrackSnapshot, now time.Time) bool {
	cx, cy := tr.BBox.Center()

	switch rule.Predicate {
	case model.PredicateIntrusion:
		return e.insideAnyROI(rule, cx, cy, now)

	case model.PredicateDwell:
		key := debounceKey(rule.ID, tr.GlobalTrackID)
		inside := e.insideAnyROI(rule, cx, cy, now)
		if !inside {
			delete(e.dwell, key)
			return false
		}
		entered, ok := e.dwell[key]
		if !ok {
			e.dwell[key] = now
			return false
		}
		want := rule.DwellSeconds
		if want <= 0 {
			want = 1
		}
		return now.Sub(entered).Seconds() >= want

	case model.PredicateLineCross:
		return e.crossedLine(rule, tr.GlobalTrackID, cx, cy)

	case model.PredicateLoitering:
		return e.loitering(rule, tr.GlobalTrackID, cx, cy, now)

	default:
		return false
	}
}

func (e *Engine) insideAnyROI(rule model.Rule, x, y float64, now time.Time) bool {
	for _, id := range rule.ROIIDs {
		roi, ok := e.rois[id]
		if !ok || !roi.Enabled {
			continue
		}
		if roi.Priority < rule.RequiredPriority {
			continue
		}
		if !roi.Window.Includes(now) {
			continue
		}
		if pointInPolygon(x, y, roi.Vertices) {
			return true
		}
	}
	return false
}

// pointInPolygon is the standard ray-casting test.
func pointInPolygon(x, y float64, verts []model.Point) bool {
	n := len(verts)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := verts[i].X, verts[i].Y
		xj, yj := verts[j].X, verts[j].Y
		if (yi > y) != (yj > y) {
			xIntersect := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func lineSide(p1, p2 model.Point, x, y float64) float64 {
	return (p2.X-p1.X)*(y-p1.Y) - (p2.Y-p1.Y)*(x-p1.X)
}

func (e *Engine) crossedLine(rule model.Rule, trackID uint64, x, y float64) bool {
	key := debounceKey(rule.ID, trackID)
	side := lineSide(rule.LineStart, rule.LineEnd, x, y)
	prev, ok := e.lineSide[key]
	e.lineSide[key] = side
	if !ok {
		return false
	}
	return (prev < 0) != (side < 0)
}

func (e *Engine) loitering(rule model.Rule, trackID uint64, x, y float64, now time.Time) bool {
	key := debounceKey(rule.ID, trackID)
	mv, ok := e.movement[key]
	if !ok {
		mv = &trackMovement{}
		e.movement[key] = mv
	}
	mv.points = append(mv.points, movementPoint{at: now, x: x, y: y})

	window := rule.LoiterWindow
	if window <= 0 {
		window = 10 * time.Second
	}
	cutoff := now.Add(-window)
	kept := mv.points[:0]
	for _, p := range mv.points {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	mv.points = kept

	if len(mv.points) < 2 {
		return false
	}
	minX, maxX := mv.points[0].x, mv.points[0].x
	minY, maxY := mv.points[0].y, mv.points[0].y
	for _, p := range mv.points[1:] {
		if p.x < minX {
			minX = p.x
		}
		if p.x > maxX {
			maxX = p.x
		}
		if p.y < minY {
			minY = p.y
		}
		if p.y > maxY {
			maxY = p.y
		}
	}
	area := (maxX - minX) * (maxY - minY)
	maxArea := rule.LoiterMaxArea
	if maxArea <= 0 {
		maxArea = 2500
	}
	// Require the kept points to span at least 70% of the window so a
	// track is not flagged the instant it appears.
	span := mv.points[len(mv.points)-1].at.Sub(mv.points[0].at)
	return span >= window*7/10 && area <= maxArea
}
