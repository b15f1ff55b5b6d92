package rl

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/strategies"
)

type fakeTradeHistory struct {
	trades []domain.Trade
}

func (f *fakeTradeHistory) GetSince(time.Time) ([]domain.Trade, error) {
	return f.trades, nil
}

type fakeStateStore struct {
	states map[string]domain.StrategyState
}

func (f *fakeStateStore) GetAll() (map[string]domain.StrategyState, error) {
	return f.states, nil
}

type fakeReturnsStore struct {
	series map[string][]float64
}

func (f *fakeReturnsStore) GetAlignedSeries([]string, int) (map[string][]float64, error) {
	return f.series, nil
}

func fullReturnSeries(cycles int) map[string][]float64 {
	series := make(map[string][]float64)
	for i, id := range strategies.AllStrategyIDs {
		s := make([]float64, cycles)
		for c := range s {
			s[c] = 0.001 * float64(i-4) // some strategies positive, some negative
		}
		series[id] = s
	}
	return series
}

func TestTrainerWritesCheckpoint(t *testing.T) {
	dir := t.TempDir()

	trainer := NewTrainer(
		&fakeTradeHistory{},
		&fakeStateStore{states: map[string]domain.StrategyState{}},
		&fakeReturnsStore{series: fullReturnSeries(40)},
		TrainerConfig{CheckpointDir: dir, Episodes: 3, MinCycles: 30},
		zerolog.Nop(),
	)

	require.NoError(t, trainer.Run(context.Background()))

	cp, err := LoadCheckpoint(LatestCheckpointPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Episodes)
	assert.Equal(t, StateSize, cp.StateSize)
}

func TestTrainerSkipsOnShortHistory(t *testing.T) {
	dir := t.TempDir()

	trainer := NewTrainer(
		&fakeTradeHistory{},
		&fakeStateStore{states: map[string]domain.StrategyState{}},
		&fakeReturnsStore{series: fullReturnSeries(5)},
		TrainerConfig{CheckpointDir: dir, Episodes: 3, MinCycles: 30},
		zerolog.Nop(),
	)

	require.NoError(t, trainer.Run(context.Background()))

	_, err := LoadCheckpoint(LatestCheckpointPath(dir))
	assert.Error(t, err, "no checkpoint should be written")
}

func TestTrainerResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()

	cfg := TrainerConfig{CheckpointDir: dir, Episodes: 2, MinCycles: 30}
	returns := &fakeReturnsStore{series: fullReturnSeries(40)}
	states := &fakeStateStore{states: map[string]domain.StrategyState{}}

	first := NewTrainer(&fakeTradeHistory{}, states, returns, cfg, zerolog.Nop())
	require.NoError(t, first.Run(context.Background()))

	second := NewTrainer(&fakeTradeHistory{}, states, returns, cfg, zerolog.Nop())
	require.NoError(t, second.Run(context.Background()))

	cp, err := LoadCheckpoint(LatestCheckpointPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Episodes)
}

func TestTrainerHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trainer := NewTrainer(
		&fakeTradeHistory{},
		&fakeStateStore{states: map[string]domain.StrategyState{}},
		&fakeReturnsStore{series: fullReturnSeries(40)},
		TrainerConfig{CheckpointDir: t.TempDir(), Episodes: 10, MinCycles: 30},
		zerolog.Nop(),
	)

	assert.Error(t, trainer.Run(ctx))
}
