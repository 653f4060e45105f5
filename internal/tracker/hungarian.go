package tracker

import (
	"math"

	"github.com/charles-haynes/munkres"
)

// hungarian solves the rectangular minimum-cost assignment problem via
// github.com/charles-haynes/munkres, the same solver
// other_examples/viam-modules-pizza-tracking's detection tracker uses
// to match its frame-to-frame detection set. cost is rows x cols;
// unreachable pairs should be set to math.Inf(1). Returns rowToCol
// where rowToCol[i] = -1 means row i is unmatched (including when its
// only candidates were all math.Inf).
func hungarian(cost [][]float64) []int {
	nRows := len(cost)
	if nRows == 0 {
		return nil
	}
	nCols := len(cost[0])

	const bigCost = 1e12
	matrix := make([][]float64, nRows)
	for i := range cost {
		matrix[i] = make([]float64, nCols)
		for j := range cost[i] {
			if math.IsInf(cost[i][j], 1) {
				matrix[i][j] = bigCost
			} else {
				matrix[i][j] = cost[i][j]
			}
		}
	}

	rowToCol := make([]int, nRows)
	for i := range rowToCol {
		rowToCol[i] = -1
	}
	if nCols == 0 {
		return rowToCol
	}

	ha, err := munkres.NewHungarianAlgorithm(matrix)
	if err != nil {
		return rowToCol
	}
	assignment := ha.Execute()

	for i := 0; i < nRows && i < len(assignment); i++ {
		col := assignment[i]
		if col < 0 || col >= nCols || matrix[i][col] >= bigCost {
			continue
		}
		rowToCol[i] = col
	}
	return rowToCol
}
