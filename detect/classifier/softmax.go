package classifier

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax returns a new probability vector. The row maximum is subtracted
// before exponentiation so large logits do not overflow.
func Softmax(logits []float64) []float64 {
	out := append([]float64(nil), logits...)
	softmaxInPlace(out)
	return out
}

// SoftmaxRows applies Softmax to each row.
func SoftmaxRows(logits [][]float64) [][]float64 {
	out := make([][]float64, len(logits))
	for i, row := range logits {
		out[i] = Softmax(row)
	}
	return out
}

func softmaxInPlace(row []float64) {
	if len(row) == 0 {
		return
	}
	m := floats.Max(row)
	for i, v := range row {
		row[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(row), row)
}
