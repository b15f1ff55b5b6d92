package allocation

import (
	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// SharpeFallback weights strategies proportionally to their positive
// trailing Sharpe. It needs no return history and never fails, which
// makes it the terminal allocator in the chain.
type SharpeFallback struct {
	states StateReader
	log    zerolog.Logger
}

// StateReader provides per-strategy performance state.
type StateReader interface {
	GetAll() (map[string]domain.StrategyState, error)
}

// NewSharpeFallback creates the fallback allocator.
func NewSharpeFallback(states StateReader, log zerolog.Logger) *SharpeFallback {
	return &SharpeFallback{
		states: states,
		log:    log.With().Str("component", "sharpe_fallback").Logger(),
	}
}

// Name implements Allocator.
func (s *SharpeFallback) Name() string { return "sharpe_fallback" }

// Allocate weights by max(Sharpe, 0). When no strategy has a positive
// Sharpe (including the cold start with no history at all) every active
// strategy gets an equal share.
func (s *SharpeFallback) Allocate(inputs Inputs) (domain.AllocationVector, error) {
	states := inputs.States
	if states == nil {
		var err error
		states, err = s.states.GetAll()
		if err != nil {
			s.log.Warn().Err(err).Msg("state lookup failed, using equal weights")
			states = map[string]domain.StrategyState{}
		}
	}

	weights := make(map[string]float64, len(inputs.StrategyIDs))
	for _, id := range inputs.StrategyIDs {
		sharpe := states[id].Sharpe
		if sharpe > 0 {
			weights[id] = sharpe
		} else {
			weights[id] = 0
		}
	}

	if !normalize(weights) {
		weights = equalWeights(inputs.StrategyIDs)
	}

	return domain.AllocationVector{Weights: weights}, nil
}
