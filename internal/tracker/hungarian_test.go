package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHungarian_SimpleSquare(t *testing.T) {
	cost := [][]float64{
		{1, 2},
		{2, 1},
	}
	assign := hungarian(cost)
	assert.Equal(t, []int{0, 1}, assign)
}

func TestHungarian_Rectangular_MoreRowsThanCols(t *testing.T) {
	cost := [][]float64{
		{1},
		{2},
		{3},
	}
	assign := hungarian(cost)
	assert.Equal(t, 0, assign[0])
	count := 0
	for _, c := range assign {
		if c >= 0 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestHungarian_UnreachablePairsStayUnmatched(t *testing.T) {
	inf := math.Inf(1)
	cost := [][]float64{
		{inf, inf},
		{inf, 5},
	}
	assign := hungarian(cost)
	assert.Equal(t, -1, assign[0])
	assert.Equal(t, 1, assign[1])
}
