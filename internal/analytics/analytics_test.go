package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNormalizedPower_TooFewSamples(t *testing.T) {
	_, ok := NormalizedPower(constant(200, NPWindowSize-1))
	assert.False(t, ok)

	_, ok = NormalizedPower(nil)
	assert.False(t, ok)
}

func TestNormalizedPower_ConstantStreamIsIdentity(t *testing.T) {
	for _, v := range []int{1, 150, 200, 237, 333, 999, 1800} {
		for _, n := range []int{30, 31, 60, 1200, 4000} {
			np, ok := NormalizedPower(constant(v, n))
			require.True(t, ok)
			assert.Equal(t, v, np, "v=%d n=%d", v, n)
		}
	}
}

func TestNormalizedPower_MatchesReferenceComputation(t *testing.T) {
	samples := make([]int, 0, 600)
	for i := 0; i < 600; i++ {
		if (i/60)%2 == 0 {
			samples = append(samples, 300)
		} else {
			samples = append(samples, 100)
		}
	}

	// straightforward recomputation of every window
	var total float64
	count := 0
	for i := NPWindowSize - 1; i < len(samples); i++ {
		sum := 0
		for _, p := range samples[i-NPWindowSize+1 : i+1] {
			sum += p
		}
		avg := float64(sum) / NPWindowSize
		total += math.Pow(avg, 4)
		count++
	}
	expected := int(math.Pow(total/float64(count), 0.25))

	np, ok := NormalizedPower(samples)
	require.True(t, ok)
	assert.Equal(t, expected, np)

	avg, _ := Average(samples)
	assert.Greater(t, np, avg, "variable efforts weigh more than their average")
}

func TestAverage(t *testing.T) {
	avg, ok := Average([]int{0, 100, 0, 201})
	require.True(t, ok)
	assert.Equal(t, 150, avg)

	f, ok := AverageFloat([]int{100, 201})
	require.True(t, ok)
	assert.InDelta(t, 150.5, f, 1e-9)

	_, ok = Average([]int{0, 0})
	assert.False(t, ok)
	_, ok = Average(nil)
	assert.False(t, ok)
}

func TestVariabilityIndex(t *testing.T) {
	vi, ok := VariabilityIndex(220, 200)
	require.True(t, ok)
	assert.InDelta(t, 1.10, vi, 1e-9)

	_, ok = VariabilityIndex(220, 0)
	assert.False(t, ok)
	_, ok = VariabilityIndex(220, -5)
	assert.False(t, ok)
}

func TestEfficiencyFactor(t *testing.T) {
	ef, ok := EfficiencyFactor(210, 140)
	require.True(t, ok)
	assert.InDelta(t, 1.5, ef, 1e-9)

	_, ok = EfficiencyFactor(210, 0)
	assert.False(t, ok)
}

func TestWattsPerKg(t *testing.T) {
	wkg, ok := WattsPerKg(300, 75)
	require.True(t, ok)
	assert.InDelta(t, 4.0, wkg, 1e-9)

	_, ok = WattsPerKg(300, 0)
	assert.False(t, ok)
}

func TestMax(t *testing.T) {
	assert.Equal(t, 0, Max(nil))
	assert.Equal(t, 410, Max([]int{120, 410, 300}))
}
