package crosscam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/visionserve/internal/model"
)

// similarVectors returns two unit-norm vectors with cosine similarity
// approximately `sim`, by mixing a shared base with an orthogonal
// component.
func similarVectors(sim float64) (model.ReIDVector, model.ReIDVector) {
	var base, ortho model.ReIDVector
	base[0] = 1
	ortho[1] = 1

	// Build v2 = sim*base + sqrt(1-sim^2)*ortho so cos(base, v2) == sim.
	var v2 model.ReIDVector
	rest := sqrt(1 - sim*sim)
	for i := range v2 {
		v2[i] = float32(sim)*base[i] + float32(rest)*ortho[i]
	}
	return base, v2
}

func sqrt(x float64) float64 {
	if x < 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		if z == 0 {
			break
		}
		z = z - (z*z-x)/(2*z)
	}
	return z
}

func TestReport_CrossCameraReID_S3(t *testing.T) {
	r := New(DefaultConfig(), nil)
	v1, v2 := similarVectors(0.85)

	g1 := r.Report("cam1", 1, v1, model.BBox{}, 0, 0.9)
	g2 := r.Report("cam2", 1, v2, model.BBox{}, 0, 0.9)
	assert.Equal(t, g1, g2)

	matches := r.FindMatches(v2, "cam2")
	require.Len(t, matches, 1)
	assert.Equal(t, g1, matches[0].GlobalID)
	assert.InDelta(t, 0.85, matches[0].Similarity, 0.02)
}

func TestReport_RejectsSameCameraDoubleBind_S4(t *testing.T) {
	r := New(DefaultConfig(), nil)
	var v model.ReIDVector
	v[0] = 1

	g := r.Report("cam1", 1, v, model.BBox{}, 0, 0.9)
	gPrime := r.Report("cam1", 2, v, model.BBox{}, 0, 0.9)
	assert.NotEqual(t, g, gPrime)
	assert.Equal(t, 2, r.Count())
}

func TestSweep_ExpiresAndReusesCapacity_S5(t *testing.T) {
	r := New(Config{ReIDThreshold: 0.7, Beta: 0.9, MaxGlobalTracks: 1000, MaxTrackAge: 1 * time.Second}, nil)
	var v model.ReIDVector
	v[0] = 1

	g := r.Report("cam1", 1, v, model.BBox{}, 0, 0.9)
	require.Equal(t, uint64(1), g)

	r.mu.Lock()
	for _, gt := range r.tracks {
		gt.LastSeen = time.Now().Add(-1500 * time.Millisecond)
	}
	r.mu.Unlock()

	removed := r.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, r.Count())

	gNext := r.Report("cam1", 1, v, model.BBox{}, 0, 0.9)
	assert.Greater(t, gNext, g)
}

func TestGlobalID_MonotonicallyIncreasing(t *testing.T) {
	r := New(DefaultConfig(), nil)
	var seen []uint64
	for i := 0; i < 5; i++ {
		var v model.ReIDVector
		v[i] = 1 // orthogonal vectors never match each other
		seen = append(seen, r.Report("cam1", uint64(i+1), v, model.BBox{}, 0, 0.9))
	}
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestAtMostOneLocalPerCamera(t *testing.T) {
	r := New(DefaultConfig(), nil)
	var v model.ReIDVector
	v[0] = 1
	r.Report("cam1", 1, v, model.BBox{}, 0, 0.9)
	r.Report("cam2", 1, v, model.BBox{}, 0, 0.9)
	r.Report("cam1", 2, v, model.BBox{}, 0, 0.9)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, gt := range r.tracks {
		seenCam := make(map[string]bool)
		for cam := range gt.Locals {
			assert.False(t, seenCam[cam], "camera %s appears twice in one global track", cam)
			seenCam[cam] = true
		}
	}
}

func TestLookup_ReturnsBoundGlobalID(t *testing.T) {
	r := New(DefaultConfig(), nil)
	var v model.ReIDVector
	v[0] = 1
	g := r.Report("cam1", 1, v, model.BBox{}, 0, 0.9)

	got, ok := r.Lookup("cam1", 1)
	require.True(t, ok)
	assert.Equal(t, g, got)

	_, ok = r.Lookup("cam1", 99)
	assert.False(t, ok)
}
