package detector

import (
	"context"

	"github.com/technosupport/visionserve/internal/model"
)

// HeuristicBackend is always-available and is what Supervisor wires by
// default when neither an ONNX model nor a remote accelerator is
// configured, matching spec.md's requirement that the pipeline still
// produces Detections (of admittedly heuristic quality) rather than
// failing closed.
type HeuristicBackend struct{}

func (HeuristicBackend) Info() BackendInfo {
	return BackendInfo{Kind: "heuristic", ModelName: "none", Available: true}
}

func (HeuristicBackend) RawDetect(ctx context.Context, f model.Frame) ([]model.Detection, error) {
	return heuristicDetect(f, seedFor(f)), nil
}

func (HeuristicBackend) Close() error { return nil }
