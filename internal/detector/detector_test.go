package detector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/visionserve/internal/model"
)

type fixedBackend struct {
	dets []model.Detection
}

func (f fixedBackend) Info() BackendInfo { return BackendInfo{Kind: "fixed", Available: true} }
func (f fixedBackend) RawDetect(ctx context.Context, fr model.Frame) ([]model.Detection, error) {
	return f.dets, nil
}
func (f fixedBackend) Close() error { return nil }

func TestDetect_ConfidenceFloorFilters(t *testing.T) {
	backend := fixedBackend{dets: []model.Detection{
		{BBox: model.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: 0, Confidence: 0.2},
		{BBox: model.BBox{X: 100, Y: 100, W: 10, H: 10}, ClassID: 0, Confidence: 0.9},
	}}
	d := New(backend)
	defer d.Close()

	out, err := d.Detect(context.Background(), model.Frame{}, Params{
		EnabledClasses: map[int]bool{0: true},
		ConfidenceMin:  0.5,
		NMSIoUMax:      0.45,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9)
}

func TestDetect_ClassFilter(t *testing.T) {
	backend := fixedBackend{dets: []model.Detection{
		{BBox: model.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: 2, Confidence: 0.9},
	}}
	d := New(backend)
	defer d.Close()

	out, err := d.Detect(context.Background(), model.Frame{}, Params{
		EnabledClasses: map[int]bool{0: true},
		ConfidenceMin:  0.1,
		NMSIoUMax:      0.45,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDetect_NMSSuppressesOverlap(t *testing.T) {
	backend := fixedBackend{dets: []model.Detection{
		{BBox: model.BBox{X: 0, Y: 0, W: 20, H: 20}, ClassID: 0, Confidence: 0.95},
		{BBox: model.BBox{X: 2, Y: 2, W: 20, H: 20}, ClassID: 0, Confidence: 0.80},
		{BBox: model.BBox{X: 200, Y: 200, W: 20, H: 20}, ClassID: 0, Confidence: 0.70},
	}}
	d := New(backend)
	defer d.Close()

	out, err := d.Detect(context.Background(), model.Frame{}, Params{
		EnabledClasses: map[int]bool{0: true},
		ConfidenceMin:  0.1,
		NMSIoUMax:      0.45,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 0.95, out[0].Confidence, 1e-9)
}

func TestDetect_NMSIsPerClass(t *testing.T) {
	box := model.BBox{X: 0, Y: 0, W: 20, H: 20}
	backend := fixedBackend{dets: []model.Detection{
		{BBox: box, ClassID: 0, Confidence: 0.9},
		{BBox: box, ClassID: 1, Confidence: 0.85},
	}}
	d := New(backend)
	defer d.Close()

	out, err := d.Detect(context.Background(), model.Frame{}, Params{
		EnabledClasses: map[int]bool{0: true, 1: true},
		ConfidenceMin:  0.1,
		NMSIoUMax:      0.45,
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestHeuristicBackend_AlwaysAvailable(t *testing.T) {
	d := New(HeuristicBackend{})
	defer d.Close()
	assert.True(t, d.Info().Available)

	out, err := d.Detect(context.Background(), model.Frame{Seq: 1, Width: 640, Height: 480}, Params{
		EnabledClasses: map[int]bool{0: true},
		ConfidenceMin:  0,
		NMSIoUMax:      0.45,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	for _, det := range out {
		assert.Equal(t, 0, det.ClassID)
	}
}

func TestGRPCBackend_FallsBackWhenUnreachable(t *testing.T) {
	b := NewGRPCBackend("127.0.0.1:1", "detector", nil)
	defer b.Close()

	out, err := b.RawDetect(context.Background(), model.Frame{Seq: 1, Width: 320, Height: 240})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.False(t, b.Info().Available)
}

func TestCPUBackend_FallsBackWithoutModel(t *testing.T) {
	b := NewCPUBackend("", "", nil)
	defer b.Close()

	assert.False(t, b.Info().Available)
	out, err := b.RawDetect(context.Background(), model.Frame{Seq: 1, Width: 320, Height: 240})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
