// Package detector implements the stateless detection capability of
// spec.md §4.5: given a Frame, an enabled class set, a confidence floor
// and an NMS IoU ceiling, produce bounded-confidence Detections.
// Backends are interchangeable (NPU via gRPC, CPU via ONNX Runtime); the
// component selects one at construction and exposes its identity via
// Info(), mirroring cmd/ai-service/inference.go's "use real weights if
// present, otherwise deterministic mock" stance from the teacher repo —
// this package never claims to run a model it cannot actually load.
package detector

import (
	"context"
	"math/rand"
	"sort"

	"github.com/technosupport/visionserve/internal/model"
)

// COCO-ish label table, ported from cmd/ai-service/inference.go's
// cocoToLabel map in the teacher repo.
var classNames = map[int]string{
	0: "person", 1: "bicycle", 2: "car", 3: "motorcycle",
	4: "bus", 5: "truck", 6: "bird", 7: "cat", 8: "dog", 9: "bag",
}

// BackendInfo identifies the active inference backend.
type BackendInfo struct {
	Kind      string // "cpu-onnx", "grpc-npu", "heuristic"
	ModelName string
	Available bool
}

// Params bundles the per-call tunables named in spec.md §4.5 / §6.
type Params struct {
	EnabledClasses map[int]bool
	ConfidenceMin  float64
	NMSIoUMax      float64
}

// Backend is the pluggable inference implementation.
type Backend interface {
	Info() BackendInfo
	// RawDetect returns unfiltered detections; Detector applies class
	// filtering, confidence floor and NMS uniformly across backends.
	RawDetect(ctx context.Context, f model.Frame) ([]model.Detection, error)
	Close() error
}

// Detector is stateless per call: it holds only the selected backend.
type Detector struct {
	backend Backend
}

// New selects backend at construction time, per spec.md: "the component
// selects at init time and exposes its identity via info()".
func New(backend Backend) *Detector {
	return &Detector{backend: backend}
}

// Info exposes the active backend's identity.
func (d *Detector) Info() BackendInfo { return d.backend.Info() }

// Close releases backend resources.
func (d *Detector) Close() error { return d.backend.Close() }

// Detect runs the backend, then applies the enabled-class filter,
// confidence floor and class-wise NMS described in spec.md §4.5. The
// input Frame is never mutated.
func (d *Detector) Detect(ctx context.Context, f model.Frame, p Params) ([]model.Detection, error) {
	raw, err := d.backend.RawDetect(ctx, f)
	if err != nil {
		return nil, err
	}

	filtered := make([]model.Detection, 0, len(raw))
	for _, det := range raw {
		if p.EnabledClasses != nil && !p.EnabledClasses[det.ClassID] {
			continue
		}
		if det.Confidence < p.ConfidenceMin {
			continue
		}
		filtered = append(filtered, det)
	}

	return classwiseNMS(filtered, p.NMSIoUMax), nil
}

// classwiseNMS runs non-max suppression independently per class id,
// retaining the gate pairwise IoU <= nMax. Ties (equal confidence) are
// broken by input order — first one wins, matching stable semantics.
func classwiseNMS(dets []model.Detection, nMax float64) []model.Detection {
	byClass := make(map[int][]model.Detection)
	for _, d := range dets {
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	var out []model.Detection
	for _, group := range byClass {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Confidence > group[j].Confidence
		})
		kept := make([]model.Detection, 0, len(group))
		for _, cand := range group {
			suppressed := false
			for _, k := range kept {
				if cand.BBox.IoU(k.BBox) > nMax {
					suppressed = true
					break
				}
			}
			if !suppressed {
				kept = append(kept, cand)
			}
		}
		out = append(out, kept...)
	}
	return out
}

// heuristicDetect produces plausible-looking detections from frame
// dimensions and a seed (seedFor derives it from the frame sequence
// number, so the same frame always yields the same boxes), the fallback cmd/ai-service/inference.go uses
// when no model weights are present: honest about being a stand-in for
// the excluded model-runtime, never silently fabricating confidence.
func heuristicDetect(f model.Frame, seed int64) []model.Detection {
	r := rand.New(rand.NewSource(seed))
	n := 1 + r.Intn(3)
	out := make([]model.Detection, 0, n)
	for i := 0; i < n; i++ {
		w := f.Width / 6
		h := f.Height / 3
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		x := r.Intn(max1(f.Width-w, 1))
		y := r.Intn(max1(f.Height-h, 1))
		out = append(out, model.Detection{
			BBox:       model.BBox{X: x, Y: y, W: w, H: h},
			ClassID:    0,
			ClassName:  classNames[0],
			Confidence: 0.55 + r.Float64()*0.4,
		})
	}
	return out
}

func max1(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func seedFor(f model.Frame) int64 {
	return int64(f.Seq)
}
