package reid

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/visionserve/internal/model"
)

func crop(seed byte, w, h int) model.PersonCrop {
	px := make([]byte, w*h*3)
	for i := range px {
		px[i] = seed + byte(i)
	}
	return model.PersonCrop{Width: w, Height: h, Pixels: px}
}

func TestExtract_Deterministic(t *testing.T) {
	c := crop(7, 64, 64)
	v1 := Extract(c)
	v2 := Extract(c)
	assert.Equal(t, v1, v2)
}

func TestExtract_DifferentCropsDiffer(t *testing.T) {
	v1 := Extract(crop(7, 64, 64))
	v2 := Extract(crop(9, 64, 64))
	assert.NotEqual(t, v1, v2)
	assert.Less(t, Cosine(v1, v2), 0.999)
}

func TestExtract_IsUnitNorm(t *testing.T) {
	v := Extract(crop(3, 64, 64))
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
}

func TestCosine_SelfSimilarityIsOne(t *testing.T) {
	v := Extract(crop(1, 32, 32))
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-6)
}

func TestAverage_ReturnsUnitNorm(t *testing.T) {
	a := Extract(crop(1, 32, 32))
	b := Extract(crop(2, 32, 32))
	avg := Average(a, b)
	var sumSq float64
	for _, x := range avg {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-5)
}

func TestAverage_EmptyReturnsZeroVector(t *testing.T) {
	avg := Average()
	assert.Equal(t, model.ReIDVector{}, avg)
}

func TestBlend_BetaOneKeepsOld(t *testing.T) {
	old := Extract(crop(1, 32, 32))
	fresh := Extract(crop(2, 32, 32))
	blended := Blend(old, fresh, 1.0)
	assert.InDelta(t, 1.0, Cosine(old, blended), 1e-6)
}

func TestBlend_IsUnitNorm(t *testing.T) {
	old := Extract(crop(1, 32, 32))
	fresh := Extract(crop(2, 32, 32))
	blended := Blend(old, fresh, 0.9)
	var sumSq float64
	for _, x := range blended {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-5)
}
