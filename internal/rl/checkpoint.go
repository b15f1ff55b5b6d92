package rl

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CheckpointFilename is the well-known name the trader polls for. The
// trainer always writes to this name so consumers never have to guess
// which checkpoint is current.
const CheckpointFilename = "checkpoint_latest.msgpack"

// Checkpoint is the serialized policy plus the metadata consumers use
// to decide whether it is safe to load.
type Checkpoint struct {
	SchemaVersion int       `msgpack:"schema_version"`
	StateSize     int       `msgpack:"state_size"`
	ActionSize    int       `msgpack:"action_size"`
	Weights       []float64 `msgpack:"weights"`
	Bias          []float64 `msgpack:"bias"`
	Episodes      int       `msgpack:"episodes"`
	TrainedAt     time.Time `msgpack:"trained_at"`
}

// SaveCheckpoint writes the policy atomically: serialize to a temp file
// in the same directory, then rename over the target. Readers either
// see the old checkpoint or the new one, never a partial write.
func SaveCheckpoint(dir string, policy *Policy, episodes int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	cp := Checkpoint{
		SchemaVersion: SchemaVersion,
		StateSize:     policy.StateSize(),
		ActionSize:    policy.ActionSize(),
		Weights:       policy.Weights(),
		Bias:          policy.Bias(),
		Episodes:      episodes,
		TrainedAt:     time.Now().UTC(),
	}

	data, err := msgpack.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	target := filepath.Join(dir, CheckpointFilename)
	tmp, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp checkpoint: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	return target, nil
}

// LoadCheckpoint reads and validates a checkpoint file. A schema or
// dimension mismatch is an error: stale checkpoints must never be
// loaded into a policy with a different feature layout.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	if cp.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("checkpoint schema version %d does not match %d", cp.SchemaVersion, SchemaVersion)
	}
	if cp.StateSize != StateSize || cp.ActionSize != ActionSize {
		return nil, fmt.Errorf("checkpoint dimensions %dx%d do not match %dx%d",
			cp.ActionSize, cp.StateSize, ActionSize, StateSize)
	}
	if len(cp.Weights) != cp.StateSize*cp.ActionSize || len(cp.Bias) != cp.ActionSize {
		return nil, fmt.Errorf("checkpoint payload is corrupt")
	}

	return &cp, nil
}

// Policy reconstructs the policy stored in the checkpoint.
func (c *Checkpoint) Policy() (*Policy, error) {
	return NewPolicyFromWeights(c.StateSize, c.ActionSize, c.Weights, c.Bias)
}
