package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}

func TestCalculateReturns(t *testing.T) {
	t.Run("converts prices to percentage returns", func(t *testing.T) {
		returns := CalculateReturns([]float64{100, 110, 99})
		require.Len(t, returns, 2)
		assert.InDelta(t, 0.10, returns[0], 1e-9)
		assert.InDelta(t, -0.10, returns[1], 1e-9)
	})

	t.Run("too few prices", func(t *testing.T) {
		assert.Empty(t, CalculateReturns([]float64{100}))
	})
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		equity   []float64
		expected float64
	}{
		{"monotonic rise has no drawdown", []float64{100, 110, 120}, 0},
		{"single dip", []float64{100, 120, 90, 130}, 0.25},
		{"too short", []float64{100}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, MaxDrawdown(tt.equity), 1e-9)
		})
	}
}

func TestCalculateSharpeRatio(t *testing.T) {
	t.Run("insufficient data returns nil", func(t *testing.T) {
		assert.Nil(t, CalculateSharpeRatio([]float64{0.01}, 0, 252))
	})

	t.Run("zero variance returns nil", func(t *testing.T) {
		assert.Nil(t, CalculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 0, 252))
	})

	t.Run("positive returns give positive sharpe", func(t *testing.T) {
		sharpe := CalculateSharpeRatio([]float64{0.01, 0.02, 0.015, 0.005}, 0, 252)
		require.NotNil(t, sharpe)
		assert.Greater(t, *sharpe, 0.0)
	})
}

func TestKellyFraction(t *testing.T) {
	t.Run("standard case", func(t *testing.T) {
		f, ok := KellyFraction(0.6, 1.4)
		require.True(t, ok)
		// 0.6 - 0.4/1.4
		assert.InDelta(t, 0.3142857, f, 1e-6)
	})

	t.Run("negative edge is returned as-is", func(t *testing.T) {
		f, ok := KellyFraction(0.3, 1.0)
		require.True(t, ok)
		assert.Less(t, f, 0.0)
	})

	t.Run("invalid inputs", func(t *testing.T) {
		_, ok := KellyFraction(0.5, 0)
		assert.False(t, ok)
		_, ok = KellyFraction(1.2, 1.0)
		assert.False(t, ok)
	})
}

func TestCorrelationMatrix(t *testing.T) {
	series := [][]float64{
		{0.01, 0.02, -0.01, 0.03},
		{0.01, 0.02, -0.01, 0.03},
		{0.02, -0.01, 0.01, -0.02},
	}

	corr, err := CorrelationMatrix(series)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, corr.At(0, 0), 1e-9)
	assert.InDelta(t, 1.0, corr.At(0, 1), 1e-9)
	assert.InDelta(t, corr.At(1, 2), corr.At(2, 1), 1e-12)
}

func TestCovarianceMatrixValidation(t *testing.T) {
	_, err := CovarianceMatrix([][]float64{{0.01, 0.02}, {0.01}})
	assert.Error(t, err)

	_, err = CovarianceMatrix(nil)
	assert.Error(t, err)
}
