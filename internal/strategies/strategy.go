// Package strategies implements the rule-based signal generators.
// Each strategy is a pure function of a price window: same window in,
// same signal out, no side effects.
package strategies

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// Strategy identifiers. These are stable keys used in the ledger, the
// allocation vector and the RL action space; the order defines the RL
// action indexing and must not change between trainer and trader.
const (
	TurtleTrading        = "turtle_trading"
	MeanReversionRSI     = "mean_reversion_rsi"
	MomentumSMACrossover = "momentum_sma_crossover"
	BreakoutTrading      = "breakout_trading"
	PairsTrading         = "pairs_trading"
	MACDMomentum         = "macd_momentum"
	BollingerBands       = "bollinger_bands"
	VIXStrategy          = "vix_strategy"
)

// AllStrategyIDs lists every strategy in canonical order.
var AllStrategyIDs = []string{
	TurtleTrading,
	MeanReversionRSI,
	MomentumSMACrossover,
	BreakoutTrading,
	PairsTrading,
	MACDMomentum,
	BollingerBands,
	VIXStrategy,
}

// Window is the immutable price history a strategy evaluates.
type Window struct {
	Symbol      string
	Closes      []float64 // Close prices, oldest first
	Benchmark   []float64 // Reference series (pairs trading), may be nil
	HasPosition bool      // Whether the portfolio currently holds the symbol
}

// Last returns the most recent close, 0 for an empty window.
func (w Window) Last() float64 {
	if len(w.Closes) == 0 {
		return 0
	}
	return w.Closes[len(w.Closes)-1]
}

// Strategy is one rule-based signal generator.
type Strategy interface {
	// ID returns the stable strategy identifier.
	ID() string
	// MinBars returns the minimum window length the strategy needs.
	MinBars() int
	// Evaluate produces a signal for the window. Windows shorter than
	// MinBars yield hold with confidence 0.
	Evaluate(w Window) domain.Signal
}

// Registry holds the active strategies in canonical order.
type Registry struct {
	strategies []Strategy
	log        zerolog.Logger
}

// NewRegistry builds the full strategy set, skipping retired IDs.
func NewRegistry(retired map[string]bool, log zerolog.Logger) *Registry {
	all := []Strategy{
		NewTurtle(),
		NewMeanReversion(),
		NewSMACrossover(),
		NewBreakout(),
		NewPairs(),
		NewMACD(),
		NewBollinger(),
		NewVolatilityRegime(),
	}

	active := make([]Strategy, 0, len(all))
	for _, s := range all {
		if retired[s.ID()] {
			log.Info().Str("strategy", s.ID()).Msg("Skipping retired strategy")
			continue
		}
		active = append(active, s)
	}

	return &Registry{
		strategies: active,
		log:        log.With().Str("component", "strategy_registry").Logger(),
	}
}

// Strategies returns the active strategies in canonical order.
func (r *Registry) Strategies() []Strategy {
	return r.strategies
}

// EvaluateAll runs every active strategy against the window.
func (r *Registry) EvaluateAll(w Window) []domain.Signal {
	signals := make([]domain.Signal, 0, len(r.strategies))
	for _, s := range r.strategies {
		signals = append(signals, s.Evaluate(w))
	}
	return signals
}

// hold builds the neutral signal every strategy returns on short windows.
func hold(strategyID, symbol, reason string) domain.Signal {
	return domain.Signal{
		StrategyID: strategyID,
		Symbol:     symbol,
		Direction:  domain.DirectionHold,
		Confidence: 0,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}

func signal(strategyID string, w Window, dir domain.Direction, confidence float64, reason string) domain.Signal {
	return domain.Signal{
		StrategyID: strategyID,
		Symbol:     w.Symbol,
		Direction:  dir,
		Confidence: clamp01(confidence),
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
