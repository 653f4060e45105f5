package hostmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_FirstCallHasZeroCPUPercent(t *testing.T) {
	s := New(4)
	sample, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, 0.0, sample.CPUPercent)
	assert.Equal(t, 4, sample.NumCPU)
}

func TestSample_SecondCallDerivesNonNegativePercent(t *testing.T) {
	s := New(4)
	_, err := s.Sample()
	require.NoError(t, err)

	sample, err := s.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sample.CPUPercent, 0.0)
	assert.LessOrEqual(t, sample.CPUPercent, 100.0)
}

func TestNew_DefaultsZeroNumCPUToOne(t *testing.T) {
	s := New(0)
	assert.Equal(t, 1, s.numCPU)
}

func TestReadCPUTicks_ReturnsPositiveTotals(t *testing.T) {
	idle, total := readCPUTicks()
	assert.Greater(t, total, uint64(0))
	assert.GreaterOrEqual(t, total, idle)
}
