// Package analytics holds the pure power/heart-rate calculations used to finalize a test.
// Integer outputs are truncated toward zero so identical input always yields identical
// results.
package analytics

import "math"

// NPWindowSize is the rolling-average length used by NormalizedPower
const NPWindowSize = 30

// NormalizedPower computes NP over samples recorded at 1 Hz: the 30-sample rolling
// average (stride 1) is raised to the 4th power, those values are averaged, and the
// 4th root is truncated. Fewer than NPWindowSize samples yields ok=false.
func NormalizedPower(samples []int) (np int, ok bool) {
	if len(samples) < NPWindowSize {
		return 0, false
	}

	var windowSum int64
	for _, p := range samples[:NPWindowSize] {
		windowSum += int64(p)
	}

	var total float64
	count := 0
	for i := NPWindowSize; ; i++ {
		avg := float64(windowSum) / NPWindowSize
		total += avg * avg * avg * avg
		count++
		if i == len(samples) {
			break
		}
		windowSum += int64(samples[i]) - int64(samples[i-NPWindowSize])
	}

	mean := total / float64(count)
	return int(math.Sqrt(math.Sqrt(mean))), true
}

// Average returns the mean of the non-zero samples, truncated.
// ok is false when every sample is zero or the slice is empty.
func Average(samples []int) (avg int, ok bool) {
	avgF, ok := AverageFloat(samples)
	return int(avgF), ok
}

// AverageFloat is Average without truncation
func AverageFloat(samples []int) (float64, bool) {
	var sum int64
	n := 0
	for _, s := range samples {
		if s == 0 {
			continue
		}
		sum += int64(s)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// Max returns the largest sample, or 0 for an empty slice
func Max(samples []int) int {
	m := 0
	for _, s := range samples {
		if s > m {
			m = s
		}
	}
	return m
}

// VariabilityIndex is NP divided by average power
func VariabilityIndex(np int, avgPower float64) (float64, bool) {
	if avgPower <= 0 {
		return 0, false
	}
	return float64(np) / avgPower, true
}

// EfficiencyFactor is NP divided by average heart rate
func EfficiencyFactor(np int, avgHeartRate float64) (float64, bool) {
	if avgHeartRate <= 0 {
		return 0, false
	}
	return float64(np) / avgHeartRate, true
}

// WattsPerKg returns ftp/weight, or false when weight is unknown
func WattsPerKg(ftp int, weightKg float64) (float64, bool) {
	if weightKg <= 0 {
		return 0, false
	}
	return float64(ftp) / weightKg, true
}
