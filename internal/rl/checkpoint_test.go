package rl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()

	policy, err := NewPolicy(StateSize, ActionSize)
	require.NoError(t, err)
	require.NoError(t, policy.Update(make([]float64, StateSize), 0, 1.0, 0.1))

	path, err := SaveCheckpoint(dir, policy, 12)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, CheckpointFilename), path)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cp.SchemaVersion)
	assert.Equal(t, StateSize, cp.StateSize)
	assert.Equal(t, ActionSize, cp.ActionSize)
	assert.Equal(t, 12, cp.Episodes)
	assert.False(t, cp.TrainedAt.IsZero())

	restored, err := cp.Policy()
	require.NoError(t, err)
	assert.Equal(t, policy.Weights(), restored.Weights())
	assert.Equal(t, policy.Bias(), restored.Bias())
}

func TestCheckpointSchemaMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CheckpointFilename)

	cp := Checkpoint{
		SchemaVersion: SchemaVersion + 1,
		StateSize:     StateSize,
		ActionSize:    ActionSize,
		Weights:       make([]float64, StateSize*ActionSize),
		Bias:          make([]float64, ActionSize),
	}
	data, err := msgpack.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadCheckpoint(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version")
}

func TestCheckpointDimensionMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CheckpointFilename)

	cp := Checkpoint{
		SchemaVersion: SchemaVersion,
		StateSize:     StateSize + 1,
		ActionSize:    ActionSize,
		Weights:       make([]float64, (StateSize+1)*ActionSize),
		Bias:          make([]float64, ActionSize),
	}
	data, err := msgpack.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = LoadCheckpoint(path)
	assert.Error(t, err)
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.msgpack"))
	assert.Error(t, err)
}

func TestSaveCheckpointOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()

	policy, err := NewPolicy(StateSize, ActionSize)
	require.NoError(t, err)

	_, err = SaveCheckpoint(dir, policy, 1)
	require.NoError(t, err)
	path, err := SaveCheckpoint(dir, policy, 2)
	require.NoError(t, err)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Episodes)

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, CheckpointFilename, entries[0].Name())
}
