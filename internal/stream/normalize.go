package stream

import "math"

// normEpsilon is added to the variance so that flat input never divides by zero.
const normEpsilon = 1e-6

// Normalize returns a copy of tensor scaled to zero mean and unit variance
// across every cell (one global mean, not per row). Constant input maps to
// all zeros. Rows may have different lengths; an empty tensor yields nil.
func Normalize(tensor [][]float64) [][]float64 {
	var (
		n   int
		sum float64
	)
	for _, row := range tensor {
		for _, v := range row {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)

	var sq float64
	for _, row := range tensor {
		for _, v := range row {
			d := v - mean
			sq += d * d
		}
	}
	scale := math.Sqrt(sq/float64(n) + normEpsilon)

	out := make([][]float64, len(tensor))
	for i, row := range tensor {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = (v - mean) / scale
		}
	}
	return out
}
