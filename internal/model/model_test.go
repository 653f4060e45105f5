package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidCameraID(t *testing.T) {
	assert.True(t, ValidCameraID("cam-1"))
	assert.True(t, ValidCameraID("CAM_01"))
	assert.False(t, ValidCameraID(""))
	assert.False(t, ValidCameraID("cam with spaces"))
	assert.False(t, ValidCameraID(string(make([]byte, 65))))
}

func TestBBox_AreaIsZeroForNonPositiveDims(t *testing.T) {
	assert.Equal(t, 0, BBox{W: 0, H: 10}.Area())
	assert.Equal(t, 0, BBox{W: 10, H: -1}.Area())
	assert.Equal(t, 200, BBox{W: 10, H: 20}.Area())
}

func TestBBox_Center(t *testing.T) {
	x, y := BBox{X: 0, Y: 0, W: 10, H: 20}.Center()
	assert.Equal(t, 5.0, x)
	assert.Equal(t, 10.0, y)
}

func TestBBox_IoU_IdenticalBoxesIsOne(t *testing.T) {
	b := BBox{X: 0, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 1.0, b.IoU(b), 1e-9)
}

func TestBBox_IoU_DisjointBoxesIsZero(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 100, Y: 100, W: 10, H: 10}
	assert.Equal(t, 0.0, a.IoU(b))
}

func TestBBox_IoU_PartialOverlap(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 5, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-9)
}

func TestGender_String(t *testing.T) {
	assert.Equal(t, "male", GenderMale.String())
	assert.Equal(t, "female", GenderFemale.String())
	assert.Equal(t, "unknown", GenderUnknown.String())
}

func TestAgeBucket_String(t *testing.T) {
	assert.Equal(t, "child", AgeChild.String())
	assert.Equal(t, "young", AgeYoung.String())
	assert.Equal(t, "middle", AgeMiddle.String())
	assert.Equal(t, "senior", AgeSenior.String())
	assert.Equal(t, "unknown", AgeUnknown.String())
}

func TestPersonAttributes_Valid(t *testing.T) {
	valid := PersonAttributes{Gender: GenderMale, GenderConfidence: 0.9, Age: AgeYoung, AgeConfidence: 0.8}
	assert.True(t, valid.Valid())

	missingGender := valid
	missingGender.Gender = GenderUnknown
	assert.False(t, missingGender.Valid())

	zeroConfidence := valid
	zeroConfidence.GenderConfidence = 0
	assert.False(t, zeroConfidence.Valid())
}

func TestTrackState_String(t *testing.T) {
	assert.Equal(t, "tentative", TrackTentative.String())
	assert.Equal(t, "confirmed", TrackConfirmed.String())
	assert.Equal(t, "lost", TrackLost.String())
	assert.Equal(t, "unknown", TrackState(99).String())
}

func TestLocalTrack_PushReID_BoundedRingBuffer(t *testing.T) {
	tr := &LocalTrack{}
	for i := 0; i < 15; i++ {
		var v ReIDVector
		v[0] = float32(i)
		tr.PushReID(v)
	}
	assert.Len(t, tr.ReIDHistory, reidHistoryCap)
	assert.Equal(t, float32(14), tr.ReIDHistory[len(tr.ReIDHistory)-1][0])
	assert.Equal(t, float32(5), tr.ReIDHistory[0][0])
}

func TestWeeklyWindow_NilAlwaysIncludes(t *testing.T) {
	var w *WeeklyWindow
	assert.True(t, w.Includes(time.Now()))
}

func TestWeeklyWindow_Includes(t *testing.T) {
	w := &WeeklyWindow{
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHHMM: 9 * 60,
		EndHHMM:   17 * 60,
	}
	monday10am := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC) // a Monday
	assert.True(t, w.Includes(monday10am))

	mondayEvening := time.Date(2024, time.January, 1, 20, 0, 0, 0, time.UTC)
	assert.False(t, w.Includes(mondayEvening))

	saturday := time.Date(2024, time.January, 6, 10, 0, 0, 0, time.UTC)
	assert.False(t, w.Includes(saturday))
}
