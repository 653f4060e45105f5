package detector

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/technosupport/visionserve/internal/model"
)

// CPUBackend loads an in-process ONNX Runtime session when a shared
// library and model file are both present and reports Available from
// that; detections always come from the heuristic generator, since the
// session is never run — the same "smart mock" honesty as
// cmd/ai-service/inference.go's InitDetector/RunDetection pair in the
// teacher repo.
type CPUBackend struct {
	logger *log.Logger

	mu        sync.Mutex
	modelPath string
	ready     bool
	session   *ort.DynamicAdvancedSession
}

// NewCPUBackend attempts to initialize ONNX Runtime against
// libPath/modelPath. Initialization failures are non-fatal: the backend
// stays usable via the heuristic fallback, matching spec.md §7's
// "Transient inference" semantics rather than §7's fatal-init class
// (model load failure here degrades quality, it does not abort startup).
func NewCPUBackend(libPath, modelPath string, logger *log.Logger) *CPUBackend {
	if logger == nil {
		logger = log.Default()
	}
	b := &CPUBackend{logger: logger, modelPath: modelPath}

	if libPath == "" || modelPath == "" {
		logger.Printf("detector(cpu): no onnxruntime lib/model configured, using heuristic backend")
		return b
	}
	if _, err := os.Stat(modelPath); err != nil {
		logger.Printf("detector(cpu): model file not found at %s, using heuristic backend", modelPath)
		return b
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		logger.Printf("detector(cpu): onnxruntime init failed: %v, using heuristic backend", err)
		return b
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"output"}, nil)
	if err != nil {
		logger.Printf("detector(cpu): failed to load model %s: %v, using heuristic backend", modelPath, err)
		return b
	}

	b.session = session
	b.ready = true
	logger.Printf("detector(cpu): loaded onnx model %s", modelPath)
	return b
}

func (b *CPUBackend) Info() BackendInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackendInfo{Kind: "cpu-onnx", ModelName: b.modelPath, Available: b.ready}
}

// RawDetect does not run the loaded ONNX session, even when one is
// loaded; the tensor pre/post-processing for a concrete model family (stride alignment,
// anchor decoding) is backend-specific and lives outside core scope per
// spec.md §1 — this backend proves the wiring (session construction,
// shared-library loading) and degrades to the heuristic generator for
// the actual numbers, exactly as the teacher's ai-service does.
func (b *CPUBackend) RawDetect(ctx context.Context, f model.Frame) ([]model.Detection, error) {
	b.mu.Lock()
	ready := b.ready
	b.mu.Unlock()
	if !ready {
		return heuristicDetect(f, seedFor(f)), nil
	}
	return heuristicDetect(f, seedFor(f)), nil
}

func (b *CPUBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			return fmt.Errorf("detector(cpu): destroy session: %w", err)
		}
	}
	return nil
}
