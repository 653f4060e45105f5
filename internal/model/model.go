// Package model holds the shared value types that flow through the
// per-camera pipeline: frames, detections, crops, tracks and events.
// Nothing in this package owns a goroutine or a lock; it is pure data.
package model

import (
	"regexp"
	"time"
)

var cameraIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidCameraID reports whether id satisfies the VideoSource id invariant.
func ValidCameraID(id string) bool {
	return cameraIDPattern.MatchString(id)
}

// Transport describes how a Decoder reaches a camera.
type Transport struct {
	URL             string
	Protocol        string // "rtsp", "rtsp+tcp"
	Username        string
	Password        string
	SocketTimeout   time.Duration
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
}

// VideoSource is the configuration of one camera.
type VideoSource struct {
	ID         string
	Transport  Transport
	Width      int
	Height     int
	FPS        float64
	Enabled    bool
}

// Frame is one decoded image plus its timestamp and provenance.
type Frame struct {
	SourceID  string
	Seq       uint64
	TimestampNS int64 // monotonic nanoseconds
	Width     int
	Height    int
	Pixels    []byte // packed RGB24, row-major
	Rotation  int    // degrees, 0/90/180/270
}

// BBox is an axis-aligned integer pixel bounding box.
type BBox struct {
	X, Y, W, H int
}

// Area returns W*H, clamped at 0.
func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Center returns the box's centroid in pixel coordinates.
func (b BBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// IoU computes intersection-over-union against another box.
func (b BBox) IoU(o BBox) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.W, o.X+o.W)
	y2 := min(b.Y+b.H, o.Y+o.H)
	iw := x2 - x1
	ih := y2 - y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.Area()+o.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Detection is a single-class bounding box derived from one Frame.
type Detection struct {
	BBox       BBox
	ClassID    int
	ClassName  string
	Confidence float64
	// TrackID is filled in by the Tracker stage; zero until then.
	TrackID uint64
}

// PersonCrop is an image subregion for one person detection.
type PersonCrop struct {
	SourceID   string
	FrameSeq   uint64
	Detection  Detection
	Pixels     []byte
	Width      int
	Height     int
}

// Gender enumerates the PersonAttributes gender field.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderMale
	GenderFemale
)

func (g Gender) String() string {
	switch g {
	case GenderMale:
		return "male"
	case GenderFemale:
		return "female"
	default:
		return "unknown"
	}
}

// AgeBucket enumerates the PersonAttributes age bucket field.
type AgeBucket int

const (
	AgeUnknown AgeBucket = iota
	AgeChild
	AgeYoung
	AgeMiddle
	AgeSenior
)

func (a AgeBucket) String() string {
	switch a {
	case AgeChild:
		return "child"
	case AgeYoung:
		return "young"
	case AgeMiddle:
		return "middle"
	case AgeSenior:
		return "senior"
	default:
		return "unknown"
	}
}

// PersonAttributes is the output of the AttributeAnalyzer for one crop.
type PersonAttributes struct {
	Gender           Gender
	GenderConfidence float64
	Age              AgeBucket
	AgeConfidence    float64
	Race             string
	RaceConfidence   float64
	Mask             bool
	Quality          float64
}

// Valid reports the validity invariant from spec.md §3: gender and age
// must both be known and their confidences strictly positive.
func (a PersonAttributes) Valid() bool {
	return a.Gender != GenderUnknown && a.Age != AgeUnknown &&
		a.GenderConfidence > 0 && a.AgeConfidence > 0
}

// TrackState is the LocalTrack lifecycle state.
type TrackState int

const (
	TrackTentative TrackState = iota
	TrackConfirmed
	TrackLost
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "tentative"
	case TrackConfirmed:
		return "confirmed"
	case TrackLost:
		return "lost"
	default:
		return "unknown"
	}
}

// ReIDDim is the fixed dimensionality of every appearance vector (C9).
const ReIDDim = 128

// ReIDVector is a unit-norm appearance embedding.
type ReIDVector [ReIDDim]float32

// LocalTrack is the per-camera identity produced by the Tracker (C8).
type LocalTrack struct {
	CameraID        string
	LocalID         uint64
	ClassID         int
	LastBBox        BBox
	FirstSeen       time.Time
	LastSeen        time.Time
	State           TrackState
	AgeSinceMatch   int
	ConsecutiveHits int
	ReIDHistory     []ReIDVector // ring buffer, bounded length 10
	LastConfidence  float64
	GlobalID        uint64 // attached by CrossCameraRegistry.report
}

const reidHistoryCap = 10

// PushReID appends a vector to the bounded ring buffer.
func (t *LocalTrack) PushReID(v ReIDVector) {
	t.ReIDHistory = append(t.ReIDHistory, v)
	if len(t.ReIDHistory) > reidHistoryCap {
		t.ReIDHistory = t.ReIDHistory[len(t.ReIDHistory)-reidHistoryCap:]
	}
}

// GlobalTrack is the cross-camera identity fused by CrossCameraRegistry (C10).
type GlobalTrack struct {
	GlobalID        uint64
	PrimaryCameraID string
	ClassID         int
	FusedReID       ReIDVector
	LastBBox        BBox
	LastConfidence  float64
	Locals          map[string]uint64 // cameraID -> localID, at most one per camera
	FirstSeen       time.Time
	LastSeen        time.Time
}

// ROI is a polygon region of interest in frame pixel coordinates.
type ROI struct {
	ID        string
	CameraID  string
	Vertices  []Point
	Priority  int
	Window    *WeeklyWindow
	Enabled   bool
}

// Point is a 2D pixel coordinate.
type Point struct{ X, Y float64 }

// WeeklyWindow is a recurring time-of-week interval, e.g. "weekdays 9-17".
type WeeklyWindow struct {
	Days      []time.Weekday
	StartHHMM int // minutes since midnight
	EndHHMM   int
}

// Includes reports whether t falls inside the weekly window.
func (w *WeeklyWindow) Includes(t time.Time) bool {
	if w == nil {
		return true
	}
	dayOK := false
	for _, d := range w.Days {
		if d == t.Weekday() {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= w.StartHHMM && mins < w.EndHHMM
}

// RulePredicate is the closed set of rule trigger kinds.
type RulePredicate int

const (
	PredicateIntrusion RulePredicate = iota
	PredicateDwell
	PredicateLineCross
	PredicateLoitering
)

// Rule references ROIs and a predicate; produces Events when satisfied.
type Rule struct {
	ID               string
	CameraID         string
	ROIIDs           []string
	Predicate        RulePredicate
	ClassFilter      map[int]bool // nil = no filter
	ConfidenceFloor  float64
	DwellSeconds     float64
	LoiterWindow     time.Duration
	LoiterMaxArea    float64
	LineStart        Point
	LineEnd          Point
	DebounceInterval time.Duration
	RequiredPriority int
}

// Event is an immutable rule-evaluation result.
type Event struct {
	EventID       string
	CameraID      string
	RuleID        string
	ClassID       int
	GlobalTrackID uint64
	Timestamp     time.Time
	Score         float64
	Snapshot      string
	Metadata      map[string]any
}
