package allocation

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/rl"
)

// weightSumTolerance is how far a weight vector's sum may drift from 1.
const weightSumTolerance = 1e-6

// Inputs carries everything an allocator may need for one decision.
// Returns is aligned per-cycle history (may be empty early on);
// StrategyIDs lists the active, non-retired strategies in canonical
// order.
type Inputs struct {
	StrategyIDs []string
	Returns     map[string][]float64
	States      map[string]domain.StrategyState
	Observation rl.Observation
}

// Allocator produces a weight vector over the active strategies.
type Allocator interface {
	Name() string
	Allocate(inputs Inputs) (domain.AllocationVector, error)
}

// ValidateWeights checks that a weight map covers exactly the given
// strategies with finite non-negative weights summing to 1.
func ValidateWeights(strategyIDs []string, weights map[string]float64) error {
	if len(weights) != len(strategyIDs) {
		return fmt.Errorf("weight vector has %d entries, expected %d", len(weights), len(strategyIDs))
	}

	sum := 0.0
	for _, id := range strategyIDs {
		w, ok := weights[id]
		if !ok {
			return fmt.Errorf("missing weight for %s", id)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight for %s is not finite", id)
		}
		if w < 0 {
			return fmt.Errorf("weight for %s is negative: %f", id, w)
		}
		sum += w
	}

	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("weights sum to %f, expected 1", sum)
	}
	return nil
}

// Chain tries allocators in strict priority order and persists the
// first valid result. When every allocator fails the previously
// accepted vector is kept.
type Chain struct {
	allocators []Allocator
	snapshots  *SnapshotRepository
	log        zerolog.Logger
}

// NewChain builds the allocator chain. Order is priority order.
func NewChain(allocators []Allocator, snapshots *SnapshotRepository, log zerolog.Logger) *Chain {
	return &Chain{
		allocators: allocators,
		snapshots:  snapshots,
		log:        log.With().Str("service", "allocation_chain").Logger(),
	}
}

// Allocate runs the chain. The accepted vector is validated, persisted
// and returned. With no winner and no prior snapshot an error is
// returned.
func (c *Chain) Allocate(inputs Inputs) (domain.AllocationVector, error) {
	if len(inputs.StrategyIDs) == 0 {
		return domain.AllocationVector{}, fmt.Errorf("no active strategies to allocate across")
	}

	for _, allocator := range c.allocators {
		vector, err := allocator.Allocate(inputs)
		if err != nil {
			c.log.Debug().
				Str("allocator", allocator.Name()).
				Err(err).
				Msg("allocator declined, trying next")
			continue
		}

		if err := ValidateWeights(inputs.StrategyIDs, vector.Weights); err != nil {
			c.log.Warn().
				Str("allocator", allocator.Name()).
				Err(err).
				Msg("allocator produced invalid weights, trying next")
			continue
		}

		vector.Method = allocator.Name()
		vector.CreatedAt = time.Now()

		if err := c.snapshots.Save(vector); err != nil {
			c.log.Error().Err(err).Msg("failed to persist allocation snapshot")
		}

		c.log.Info().
			Str("method", vector.Method).
			Interface("weights", vector.Weights).
			Msg("allocation accepted")
		return vector, nil
	}

	previous, err := c.snapshots.GetLatest()
	if err != nil {
		return domain.AllocationVector{}, fmt.Errorf("all allocators failed and snapshot lookup errored: %w", err)
	}
	if previous != nil {
		c.log.Warn().
			Str("method", previous.Method).
			Msg("all allocators failed, keeping previous allocation")
		return *previous, nil
	}

	return domain.AllocationVector{}, fmt.Errorf("all allocators failed and no previous allocation exists")
}

// Current returns the last persisted allocation, nil when none exists.
func (c *Chain) Current() (*domain.AllocationVector, error) {
	return c.snapshots.GetLatest()
}

// normalize scales the weights in place so they sum to 1. Returns false
// when the total is not positive.
func normalize(weights map[string]float64) bool {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return false
	}
	for id := range weights {
		weights[id] /= sum
	}
	return true
}

// equalWeights assigns 1/n to every strategy.
func equalWeights(strategyIDs []string) map[string]float64 {
	weights := make(map[string]float64, len(strategyIDs))
	for _, id := range strategyIDs {
		weights[id] = 1.0 / float64(len(strategyIDs))
	}
	return weights
}
