package pricing

import (
	"math"
	"slices"
)

// Median of the finite, non-negative values; even lengths average the two middle values.
func Median(vals []float64) (float64, bool) {
	xs := make([]float64, 0, len(vals))
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		xs = append(xs, v)
	}
	if len(xs) == 0 {
		return 0, false
	}
	slices.Sort(xs)
	mid := len(xs) / 2
	if len(xs)%2 == 0 {
		return (xs[mid-1] + xs[mid]) / 2, true
	}
	return xs[mid], true
}
