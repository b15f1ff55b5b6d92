package regime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func steadyUptrend(n int) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 1.002
		out[i] = price
	}
	return out
}

func steadyDowntrend(n int) []float64 {
	out := make([]float64, n)
	price := 100.0
	for i := range out {
		price *= 0.998
		out[i] = price
	}
	return out
}

func TestUpdateBullMarket(t *testing.T) {
	d := NewDetector(zerolog.Nop())

	f := d.Update(steadyUptrend(100))

	assert.Greater(t, f.BullBear, 0.0)
	assert.Greater(t, f.SharpeRegime, 0.0)
	assert.Greater(t, f.TrendStrength, 0.0)
	assert.Greater(t, f.Stability, 0.5, "low-vol trend is a stable regime")
}

func TestUpdateBearMarket(t *testing.T) {
	d := NewDetector(zerolog.Nop())

	f := d.Update(steadyDowntrend(100))

	assert.Less(t, f.BullBear, 0.0)
	assert.Less(t, f.SharpeRegime, 0.0)
}

func TestUpdateShortSeriesKeepsPrevious(t *testing.T) {
	d := NewDetector(zerolog.Nop())

	first := d.Update(steadyUptrend(100))
	second := d.Update([]float64{100, 101})

	assert.Equal(t, first, second)
	assert.Equal(t, first, d.Current())
}

func TestFeaturesBounded(t *testing.T) {
	d := NewDetector(zerolog.Nop())

	// Violent alternating series
	closes := make([]float64, 120)
	price := 100.0
	for i := range closes {
		if i%2 == 0 {
			price *= 1.10
		} else {
			price *= 0.90
		}
		closes[i] = price
	}

	f := d.Update(closes)
	for i, v := range f.Vector() {
		assert.GreaterOrEqual(t, v, -1.0, "component %d", i)
		assert.LessOrEqual(t, v, 1.0, "component %d", i)
	}
	assert.Len(t, f.Vector(), 4)
}
