package neataptic

import (
	"math"
	"sort"
)

// clamp restricts a value to a given range [minVal, maxVal].
func clamp(value, minVal, maxVal float64) float64 {
	return math.Max(minVal, math.Min(value, maxVal))
}

// isFinite reports whether v is neither NaN nor an infinity.
func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// --- Statistical Functions ---

// Mean calculates the average of a slice of float64 values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Stdev calculates the sample standard deviation of a slice of float64 values.
func Stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// Median calculates the median of a slice of float64 values.
// Returns NaN if the slice is empty.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sortedValues := make([]float64, n)
	copy(sortedValues, values)
	sort.Float64s(sortedValues)

	mid := n / 2
	if n%2 == 1 {
		return sortedValues[mid]
	}
	return (sortedValues[mid-1] + sortedValues[mid]) / 2.0
}

// Percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. Returns NaN for an empty slice.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sortedValues := make([]float64, n)
	copy(sortedValues, values)
	sort.Float64s(sortedValues)

	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sortedValues[lo]
	}
	frac := rank - float64(lo)
	return sortedValues[lo]*(1-frac) + sortedValues[hi]*frac
}

// TrimmedMean returns the mean of values after discarding the given fraction
// (0..0.5) from each end of the sorted slice.
func TrimmedMean(values []float64, trim float64) float64 {
	n := len(values)
	if n == 0 {
		return 0.0
	}
	trim = clamp(trim, 0, 0.5)
	sortedValues := make([]float64, n)
	copy(sortedValues, values)
	sort.Float64s(sortedValues)

	cut := int(float64(n) * trim)
	kept := sortedValues[cut : n-cut]
	if len(kept) == 0 {
		// Trimming removed everything; fall back to the median.
		return Median(values)
	}
	return Mean(kept)
}

// GaussianWeights returns n weights following a Gaussian profile centered on
// the most recent sample (index n-1), normalized to sum to 1. Used by the
// gaussian moving-average smoother.
func GaussianWeights(n int, sigma float64) []float64 {
	if n <= 0 {
		return nil
	}
	if sigma <= 0 {
		sigma = float64(n) / 3.0
	}
	weights := make([]float64, n)
	sum := 0.0
	for i := 0; i < n; i++ {
		d := float64(n - 1 - i)
		weights[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}
