// Package drift compares the recent feature and prediction distributions of
// a model variant against a baseline and raises alerts when they diverge.
package drift

import (
	"math"
	"slices"
)

// Divergence defaults.
const (
	DefaultBins = 10
	Epsilon     = 1e-10
)

// Histogram buckets values into bins equal-width buckets spanning [lo, hi],
// adds Epsilon to every bucket and normalizes the result to sum to 1.
// Values outside the range land in the nearest edge bucket.
func Histogram(values []float64, lo, hi float64, bins int) []float64 {
	if bins <= 0 {
		bins = DefaultBins
	}
	h := make([]float64, bins)
	width := (hi - lo) / float64(bins)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		i := 0
		if width > 0 {
			i = int((v - lo) / width)
		}
		h[min(max(i, 0), bins-1)]++
	}

	var total float64
	for i := range h {
		h[i] += Epsilon
		total += h[i]
	}
	for i := range h {
		h[i] /= total
	}
	return h
}

// KL returns the Kullback-Leibler divergence KL(p‖q) of two normalized
// histograms of equal length.
func KL(p, q []float64) float64 {
	var d float64
	for i := range p {
		if p[i] > 0 && q[i] > 0 {
			d += p[i] * math.Log(p[i]/q[i])
		}
	}
	return max(d, 0)
}

// Divergence returns KL(current‖baseline) after bucketing both samples over
// their combined min/max range. Empty samples or a zero-width range yield 0.
func Divergence(current, baseline []float64, bins int) float64 {
	if len(current) == 0 || len(baseline) == 0 {
		return 0
	}
	lo := min(slices.Min(current), slices.Min(baseline))
	hi := max(slices.Max(current), slices.Max(baseline))
	if hi <= lo {
		return 0
	}
	return KL(Histogram(current, lo, hi, bins), Histogram(baseline, lo, hi, bins))
}

// MeanStd returns the mean and population standard deviation of values.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)))
}

// AnomalyRate returns the fraction of values farther than sigmas standard
// deviations from the baseline mean. A zero-variance baseline counts any
// value different from its mean.
func AnomalyRate(values []float64, mean, std, sigmas float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var n int
	for _, v := range values {
		dev := math.Abs(v - mean)
		if (std == 0 && dev > 1e-12) || (std > 0 && dev > sigmas*std) {
			n++
		}
	}
	return float64(n) / float64(len(values))
}
