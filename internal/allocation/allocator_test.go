package allocation

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/database"
	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/strategies"
)

func newAllocDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "portfolio.db"),
		Profile: database.ProfileStandard,
		Name:    "portfolio",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db.Conn()
}

type fixedStates struct {
	states map[string]domain.StrategyState
}

func (f *fixedStates) GetAll() (map[string]domain.StrategyState, error) {
	return f.states, nil
}

type failingAllocator struct{}

func (failingAllocator) Name() string { return "failing" }
func (failingAllocator) Allocate(Inputs) (domain.AllocationVector, error) {
	return domain.AllocationVector{}, fmt.Errorf("always fails")
}

func TestValidateWeights(t *testing.T) {
	ids := []string{"a", "b"}

	tests := []struct {
		name    string
		weights map[string]float64
		wantErr bool
	}{
		{"valid", map[string]float64{"a": 0.6, "b": 0.4}, false},
		{"missing entry", map[string]float64{"a": 1}, true},
		{"extra entry", map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}, true},
		{"negative", map[string]float64{"a": -0.1, "b": 1.1}, true},
		{"sum off", map[string]float64{"a": 0.6, "b": 0.5}, true},
		{"nan", map[string]float64{"a": nan(), "b": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(ids, tt.weights)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestSharpeFallbackProportionalWeights(t *testing.T) {
	states := &fixedStates{states: map[string]domain.StrategyState{
		"a": {StrategyID: "a", Sharpe: 2},
		"b": {StrategyID: "b", Sharpe: 1},
		"c": {StrategyID: "c", Sharpe: -0.5},
	}}
	fallback := NewSharpeFallback(states, zerolog.Nop())

	vector, err := fallback.Allocate(Inputs{
		StrategyIDs: []string{"a", "b", "c"},
		States:      states.states,
	})
	require.NoError(t, err)
	require.NoError(t, ValidateWeights([]string{"a", "b", "c"}, vector.Weights))

	assert.InDelta(t, 2.0/3.0, vector.Weights["a"], 1e-9)
	assert.InDelta(t, 1.0/3.0, vector.Weights["b"], 1e-9)
	assert.Zero(t, vector.Weights["c"])
}

func TestSharpeFallbackColdStartEqualWeights(t *testing.T) {
	fallback := NewSharpeFallback(&fixedStates{states: map[string]domain.StrategyState{}}, zerolog.Nop())

	vector, err := fallback.Allocate(Inputs{StrategyIDs: strategies.AllStrategyIDs})
	require.NoError(t, err)

	for _, id := range strategies.AllStrategyIDs {
		assert.InDelta(t, 0.125, vector.Weights[id], 1e-9)
	}
}

func TestChainFallsThroughToSharpeFallback(t *testing.T) {
	snapshots, err := NewSnapshotRepository(newAllocDB(t), zerolog.Nop())
	require.NoError(t, err)

	states := &fixedStates{states: map[string]domain.StrategyState{}}
	chain := NewChain([]Allocator{
		NewHRP(zerolog.Nop()),
		NewSharpeFallback(states, zerolog.Nop()),
	}, snapshots, zerolog.Nop())

	// No return history: HRP declines, fallback distributes equally.
	vector, err := chain.Allocate(Inputs{StrategyIDs: strategies.AllStrategyIDs})
	require.NoError(t, err)

	assert.Equal(t, "sharpe_fallback", vector.Method)
	for _, id := range strategies.AllStrategyIDs {
		assert.InDelta(t, 0.125, vector.Weights[id], 1e-9)
	}

	// The accepted vector is persisted.
	latest, err := snapshots.GetLatest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "sharpe_fallback", latest.Method)
}

func TestChainKeepsPreviousOnTotalFailure(t *testing.T) {
	snapshots, err := NewSnapshotRepository(newAllocDB(t), zerolog.Nop())
	require.NoError(t, err)

	previous := domain.AllocationVector{
		Method:  "hrp",
		Weights: map[string]float64{"a": 0.7, "b": 0.3},
	}
	require.NoError(t, snapshots.Save(previous))

	chain := NewChain([]Allocator{failingAllocator{}}, snapshots, zerolog.Nop())

	vector, err := chain.Allocate(Inputs{StrategyIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "hrp", vector.Method)
	assert.InDelta(t, 0.7, vector.Weights["a"], 1e-9)
}

func TestChainErrorsWithNoFallbackAndNoHistory(t *testing.T) {
	snapshots, err := NewSnapshotRepository(newAllocDB(t), zerolog.Nop())
	require.NoError(t, err)

	chain := NewChain([]Allocator{failingAllocator{}}, snapshots, zerolog.Nop())

	_, err = chain.Allocate(Inputs{StrategyIDs: []string{"a"}})
	assert.Error(t, err)
}

func TestChainRejectsInvalidAllocatorOutput(t *testing.T) {
	snapshots, err := NewSnapshotRepository(newAllocDB(t), zerolog.Nop())
	require.NoError(t, err)

	bad := allocatorFunc{name: "bad", weights: map[string]float64{"a": 0.9, "b": 0.9}}
	good := allocatorFunc{name: "good", weights: map[string]float64{"a": 0.5, "b": 0.5}}
	chain := NewChain([]Allocator{bad, good}, snapshots, zerolog.Nop())

	vector, err := chain.Allocate(Inputs{StrategyIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "good", vector.Method)
}

type allocatorFunc struct {
	name    string
	weights map[string]float64
}

func (a allocatorFunc) Name() string { return a.name }
func (a allocatorFunc) Allocate(Inputs) (domain.AllocationVector, error) {
	return domain.AllocationVector{Weights: a.weights}, nil
}

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	repo, err := NewSnapshotRepository(newAllocDB(t), zerolog.Nop())
	require.NoError(t, err)

	latest, err := repo.GetLatest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, repo.Save(domain.AllocationVector{
		Method:  "hrp",
		Weights: map[string]float64{"a": 0.25, "b": 0.75},
	}))
	require.NoError(t, repo.Save(domain.AllocationVector{
		Method:  "rl",
		Weights: map[string]float64{"a": 0.5, "b": 0.5},
	}))

	latest, err = repo.GetLatest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "rl", latest.Method)
	assert.InDelta(t, 0.5, latest.Weights["a"], 1e-9)
	assert.False(t, latest.CreatedAt.IsZero())
}
