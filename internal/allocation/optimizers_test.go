package allocation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/rl"
	"github.com/neolight/smarttrader/internal/strategies"
)

// syntheticReturns builds deterministic return series with controlled
// volatility per strategy.
func syntheticReturns(ids []string, vols []float64, cycles int) map[string][]float64 {
	rng := rand.New(rand.NewSource(7))

	series := make(map[string][]float64, len(ids))
	for i, id := range ids {
		s := make([]float64, cycles)
		for c := range s {
			s[c] = rng.NormFloat64() * vols[i]
		}
		series[id] = s
	}
	return series
}

func TestHRPProducesValidWeights(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	returns := syntheticReturns(ids, []float64{0.01, 0.01, 0.05, 0.02}, 60)

	hrp := NewHRP(zerolog.Nop())
	vector, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	require.NoError(t, err)
	require.NoError(t, ValidateWeights(ids, vector.Weights))
}

func TestHRPFavorsLowVolatility(t *testing.T) {
	ids := []string{"calm", "wild"}
	returns := syntheticReturns(ids, []float64{0.005, 0.05}, 60)

	hrp := NewHRP(zerolog.Nop())
	vector, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	require.NoError(t, err)

	assert.Greater(t, vector.Weights["calm"], vector.Weights["wild"])
}

func TestHRPDeclinesOnShortHistory(t *testing.T) {
	ids := []string{"a", "b"}
	returns := syntheticReturns(ids, []float64{0.01, 0.01}, 5)

	hrp := NewHRP(zerolog.Nop())
	_, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	assert.Error(t, err)
}

func TestHRPSingleStrategy(t *testing.T) {
	ids := []string{"only"}
	returns := syntheticReturns(ids, []float64{0.01}, 60)

	hrp := NewHRP(zerolog.Nop())
	vector, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	require.NoError(t, err)
	assert.Equal(t, 1.0, vector.Weights["only"])
}

func TestHRPDeterministic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	returns := syntheticReturns(ids, []float64{0.01, 0.02, 0.01, 0.03, 0.015}, 80)

	hrp := NewHRP(zerolog.Nop())
	first, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	require.NoError(t, err)
	second, err := hrp.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	require.NoError(t, err)

	for _, id := range ids {
		assert.Equal(t, first.Weights[id], second.Weights[id])
	}
}

func TestDendrogramCoversAllLeaves(t *testing.T) {
	dist := [][]float64{
		{0, 0.1, 0.9},
		{0.1, 0, 0.8},
		{0.9, 0.8, 0},
	}

	root := buildDendrogram(dist, 3, LinkageSingle)
	assert.Equal(t, []int{0, 1, 2}, sortedLeaves(root))

	order := quasiDiagonalOrder(root)
	assert.Len(t, order, 3)

	// The close pair 0,1 should sit together in the ordering.
	posOf := map[int]int{}
	for pos, leaf := range order {
		posOf[leaf] = pos
	}
	assert.Equal(t, 1, abs(posOf[0]-posOf[1]))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestWardMergeOrder(t *testing.T) {
	// 0 and 1 are closest, 2 and 3 nearly so, and 2 sits slightly closer
	// to the {0,1} pair than to 3 leaf-wise. Ward penalizes growing the
	// {0,1} cluster, so it pairs 2 with 3; single linkage chains 2 onto
	// {0,1} instead.
	dist := [][]float64{
		{0, 2.0, 3.3, 3.45},
		{2.0, 0, 3.3, 3.45},
		{3.3, 3.3, 0, 3.4},
		{3.45, 3.45, 3.4, 0},
	}

	ward := buildDendrogram(dist, 4, LinkageWard)
	assert.Equal(t, []int{0, 1}, ward.left.leaves)
	assert.Equal(t, []int{2, 3}, ward.right.leaves)
	assert.Equal(t, []int{0, 1, 2, 3}, quasiDiagonalOrder(ward))

	single := buildDendrogram(dist, 4, LinkageSingle)
	assert.Equal(t, []int{0, 1, 2}, single.left.leaves)
	assert.Equal(t, []int{3}, single.right.leaves)
}

func TestLanceWilliamsWardDistance(t *testing.T) {
	// Merging two singletons at distance 2, each 3.3 from the third
	// point: d^2 = (2*3.3^2 + 2*3.3^2 - 2^2) / 3.
	got := lanceWilliams(LinkageWard, 2.0, 3.3, 3.3, 1, 1, 1)
	want := math.Sqrt((2*3.3*3.3 + 2*3.3*3.3 - 4) / 3)
	assert.InDelta(t, want, got, 1e-12)

	assert.Equal(t, 3.3, lanceWilliams(LinkageSingle, 2.0, 3.3, 3.45, 1, 1, 1))
	assert.Equal(t, 3.45, lanceWilliams(LinkageComplete, 2.0, 3.3, 3.45, 1, 1, 1))
	assert.InDelta(t, 3.375, lanceWilliams(LinkageAverage, 2.0, 3.3, 3.45, 1, 1, 1), 1e-12)
}

func TestBlackLittermanProducesClampedWeights(t *testing.T) {
	ids := strategies.AllStrategyIDs
	vols := []float64{0.01, 0.02, 0.015, 0.03, 0.01, 0.025, 0.02, 0.012}
	returns := syntheticReturns(ids, vols, 80)

	states := make(map[string]domain.StrategyState, len(ids))
	for i, id := range ids {
		states[id] = domain.StrategyState{StrategyID: id, Sharpe: float64(len(ids) - i)}
	}

	bl := NewBlackLitterman(DefaultBlackLittermanConfig(), zerolog.Nop())
	vector, err := bl.Allocate(Inputs{StrategyIDs: ids, Returns: returns, States: states})
	require.NoError(t, err)
	require.NoError(t, ValidateWeights(ids, vector.Weights))

	cfg := DefaultBlackLittermanConfig()
	for _, id := range ids {
		w := vector.Weights[id]
		assert.GreaterOrEqual(t, w, cfg.MinWeight-1e-6)
		assert.LessOrEqual(t, w, cfg.MaxWeight+1e-6)
	}
}

func TestBlackLittermanDeclinesOnShortHistory(t *testing.T) {
	ids := []string{"a", "b"}
	returns := syntheticReturns(ids, []float64{0.01, 0.01}, 3)

	bl := NewBlackLitterman(DefaultBlackLittermanConfig(), zerolog.Nop())
	_, err := bl.Allocate(Inputs{StrategyIDs: ids, Returns: returns})
	assert.Error(t, err)
}

func TestRLAllocatorDeclinesWithoutCheckpoint(t *testing.T) {
	alloc := NewRLAllocator(t.TempDir(), zerolog.Nop())

	_, err := alloc.Allocate(Inputs{StrategyIDs: strategies.AllStrategyIDs})
	assert.Error(t, err)
}

func TestRLAllocatorUsesCheckpointPolicy(t *testing.T) {
	dir := t.TempDir()

	policy, err := rl.NewPolicy(rl.StateSize, rl.ActionSize)
	require.NoError(t, err)
	_, err = rl.SaveCheckpoint(dir, policy, 1)
	require.NoError(t, err)

	alloc := NewRLAllocator(dir, zerolog.Nop())
	vector, err := alloc.Allocate(Inputs{StrategyIDs: strategies.AllStrategyIDs})
	require.NoError(t, err)
	require.NoError(t, ValidateWeights(strategies.AllStrategyIDs, vector.Weights))

	// Uniform policy spreads evenly across all strategies.
	for _, id := range strategies.AllStrategyIDs {
		assert.InDelta(t, 0.125, vector.Weights[id], 1e-9)
	}
}

func TestRLAllocatorRenormalizesOverActiveStrategies(t *testing.T) {
	dir := t.TempDir()

	policy, err := rl.NewPolicy(rl.StateSize, rl.ActionSize)
	require.NoError(t, err)
	_, err = rl.SaveCheckpoint(dir, policy, 1)
	require.NoError(t, err)

	active := strategies.AllStrategyIDs[:4]
	alloc := NewRLAllocator(dir, zerolog.Nop())
	vector, err := alloc.Allocate(Inputs{StrategyIDs: active})
	require.NoError(t, err)
	require.NoError(t, ValidateWeights(active, vector.Weights))

	sum := 0.0
	for _, w := range vector.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.True(t, math.Abs(vector.Weights[active[0]]-0.25) < 1e-9)
}
