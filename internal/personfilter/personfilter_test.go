package personfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/visionserve/internal/model"
)

func TestSelect_FiltersNonPersonClasses(t *testing.T) {
	dets := []model.Detection{
		{ClassID: 2, BBox: model.BBox{X: 10, Y: 10, W: 100, H: 100}},
		{ClassID: personClassID, BBox: model.BBox{X: 10, Y: 10, W: 100, H: 100}},
	}
	out := Select(dets, 640, 480, DefaultParams())
	assert.Len(t, out, 1)
}

func TestSelect_PadsAndAligns(t *testing.T) {
	dets := []model.Detection{
		{ClassID: personClassID, BBox: model.BBox{X: 100, Y: 100, W: 100, H: 200}},
	}
	out := Select(dets, 640, 480, Params{PadFraction: 0.10, AlignPixels: 16, MinCropSide: 64})
	assert.Len(t, out, 1)
	assert.Equal(t, 0, out[0].W%16)
	assert.LessOrEqual(t, out[0].X, 100)
}

func TestSelect_ClampsToFrameBounds(t *testing.T) {
	dets := []model.Detection{
		{ClassID: personClassID, BBox: model.BBox{X: 0, Y: 0, W: 100, H: 100}},
		{ClassID: personClassID, BBox: model.BBox{X: 600, Y: 440, W: 100, H: 100}},
	}
	out := Select(dets, 640, 480, DefaultParams())
	require := assert.New(t)
	for _, b := range out {
		require.GreaterOrEqual(b.X, 0)
		require.GreaterOrEqual(b.Y, 0)
		require.LessOrEqual(b.X+b.W, 640)
		require.LessOrEqual(b.Y+b.H, 480)
	}
}

func TestSelect_DiscardsUndersizedCrops(t *testing.T) {
	dets := []model.Detection{
		{ClassID: personClassID, BBox: model.BBox{X: 10, Y: 10, W: 20, H: 20}},
	}
	out := Select(dets, 640, 480, Params{PadFraction: 0, AlignPixels: 16, MinCropSide: 64})
	assert.Empty(t, out)
}

func TestSelectIndexed_PreservesOriginatingDetectionIndex(t *testing.T) {
	dets := []model.Detection{
		{ClassID: 2, BBox: model.BBox{X: 10, Y: 10, W: 100, H: 100}},
		{ClassID: personClassID, BBox: model.BBox{X: 10, Y: 10, W: 100, H: 100}},
		{ClassID: personClassID, BBox: model.BBox{X: 200, Y: 200, W: 100, H: 100}},
	}
	crops := SelectIndexed(dets, 640, 480, DefaultParams())
	require.Len(t, crops, 2)
	assert.Equal(t, 1, crops[0].DetIdx)
	assert.Equal(t, 2, crops[1].DetIdx)
}

func TestSelect_PadFractionClampedToRange(t *testing.T) {
	p := Params{PadFraction: 5.0, AlignPixels: 16, MinCropSide: 64}.normalized()
	assert.InDelta(t, 0.30, p.PadFraction, 1e-9)

	p = Params{PadFraction: -1, AlignPixels: 16, MinCropSide: 64}.normalized()
	assert.Equal(t, float64(0), p.PadFraction)
}
