package allocation

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/rl"
	"github.com/neolight/smarttrader/internal/strategies"
)

// RLAllocator reads the policy the trainer checkpoints and converts its
// action distribution into allocation weights. It holds no training
// logic; a missing or incompatible checkpoint just means the next
// allocator in the chain runs.
type RLAllocator struct {
	checkpointDir string
	env           *rl.Environment
	log           zerolog.Logger

	mu       sync.Mutex
	policy   *rl.Policy
	loadedAt time.Time
}

// NewRLAllocator creates the allocator reading checkpoints from dir.
func NewRLAllocator(checkpointDir string, log zerolog.Logger) *RLAllocator {
	return &RLAllocator{
		checkpointDir: checkpointDir,
		env:           rl.NewEnvironment(),
		log:           log.With().Str("component", "rl_allocator").Logger(),
	}
}

// Name implements Allocator.
func (r *RLAllocator) Name() string { return "rl" }

// Allocate implements Allocator. The policy's probabilities over the
// canonical strategy set are restricted to the active strategies and
// renormalized.
func (r *RLAllocator) Allocate(inputs Inputs) (domain.AllocationVector, error) {
	policy, err := r.loadPolicy()
	if err != nil {
		return domain.AllocationVector{}, err
	}

	state := r.env.BuildState(inputs.Observation)
	probs, err := policy.Probabilities(state)
	if err != nil {
		return domain.AllocationVector{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	active := make(map[string]bool, len(inputs.StrategyIDs))
	for _, id := range inputs.StrategyIDs {
		active[id] = true
	}

	weights := make(map[string]float64, len(inputs.StrategyIDs))
	for i, id := range strategies.AllStrategyIDs {
		if active[id] {
			weights[id] = probs[i]
		}
	}

	if !normalize(weights) {
		return domain.AllocationVector{}, fmt.Errorf("policy assigned zero mass to all active strategies")
	}

	return domain.AllocationVector{Weights: weights}, nil
}

// loadPolicy returns the cached policy, reloading when the checkpoint
// file has been replaced by the trainer.
func (r *RLAllocator) loadPolicy() (*rl.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := rl.LatestCheckpointPath(r.checkpointDir)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("no checkpoint available: %w", err)
	}

	if r.policy != nil && !info.ModTime().After(r.loadedAt) {
		return r.policy, nil
	}

	cp, err := rl.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	policy, err := cp.Policy()
	if err != nil {
		return nil, fmt.Errorf("failed to restore policy: %w", err)
	}

	r.policy = policy
	r.loadedAt = info.ModTime()
	r.log.Info().
		Int("episodes", cp.Episodes).
		Time("trained_at", cp.TrainedAt).
		Msg("policy checkpoint loaded")

	return policy, nil
}
