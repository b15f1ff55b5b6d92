// Package rl implements the offline-trained allocation policy: the
// state encoding, the linear softmax policy, the REINFORCE trainer and
// the checkpoint files that carry weights between processes.
package rl

import (
	"math"
	"time"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/internal/regime"
	"github.com/neolight/smarttrader/internal/strategies"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// SchemaVersion identifies the state feature layout. Bump whenever a
// feature is added, removed or reordered; consumers reject checkpoints
// trained under a different version.
const SchemaVersion = 1

const (
	marketFeatures    = 8
	portfolioFeatures = 6
	strategyFeatures  = 2 // per strategy
	regimeFeatures    = 4
)

// StateSize is the fixed state vector dimension: 8 market + 6 portfolio
// + 2 per strategy + 4 regime.
var StateSize = marketFeatures + portfolioFeatures + strategyFeatures*len(strategies.AllStrategyIDs) + regimeFeatures

// ActionSize is the number of strategies the policy allocates across.
var ActionSize = len(strategies.AllStrategyIDs)

// Observation is everything the environment needs to encode one state.
type Observation struct {
	BenchmarkCloses []float64      // Benchmark price series, oldest first
	RecentTrades    []domain.Trade // Trades in the observation window, oldest first

	Equity          float64
	Cash            float64
	InitialEquity   float64
	PositionCount   int
	PeakEquity      float64 // High-water mark for current drawdown
	TotalPnL        float64
	SymbolDiversity int // Distinct symbols across open positions

	StrategyStates  map[string]domain.StrategyState
	StrategyReturns map[string][]float64 // Per-strategy return series for drawdown features
	Regime          regime.Features
}

// Environment encodes observations into fixed-size state vectors.
type Environment struct{}

// NewEnvironment creates the state encoder.
func NewEnvironment() *Environment {
	return &Environment{}
}

// BuildState encodes an observation into the schema v1 state vector.
// Every component is bounded to keep gradients well behaved.
func (e *Environment) BuildState(obs Observation) []float64 {
	state := make([]float64, 0, StateSize)
	state = append(state, e.marketFeatures(obs)...)
	state = append(state, e.portfolioFeatures(obs)...)
	state = append(state, e.strategyFeatures(obs)...)
	state = append(state, obs.Regime.Vector()...)
	return state
}

// marketFeatures: volatility, trend slope, momentum, trade frequency,
// max drawdown, rolling sharpe, win rate, mean trade P&L.
func (e *Environment) marketFeatures(obs Observation) []float64 {
	features := make([]float64, marketFeatures)

	returns := formulas.CalculateReturns(obs.BenchmarkCloses)
	if len(returns) > 0 {
		features[0] = clampUnit(formulas.AnnualizedVolatility(returns) / 0.5)

		mean := formulas.Mean(obs.BenchmarkCloses)
		if mean > 0 {
			features[1] = clampSigned(formulas.LinearSlope(obs.BenchmarkCloses) / mean * 100)
		}
	}

	// Momentum over the last 5 bars
	n := len(obs.BenchmarkCloses)
	if n >= 6 && obs.BenchmarkCloses[n-6] > 0 {
		features[2] = clampSigned((obs.BenchmarkCloses[n-1]/obs.BenchmarkCloses[n-6] - 1) * 20)
	}

	features[3] = e.tradeFrequency(obs.RecentTrades)
	features[4] = formulas.MaxDrawdown(obs.BenchmarkCloses)

	if sharpe := formulas.CalculateSharpeRatio(returns, 0, 252); sharpe != nil {
		features[5] = math.Tanh(*sharpe / 2)
	}

	features[6] = tradeWinRate(obs.RecentTrades)
	features[7] = e.meanTradePnL(obs)

	return features
}

// portfolioFeatures: normalized equity, cash ratio, position count,
// current drawdown, total P&L, symbol diversity.
func (e *Environment) portfolioFeatures(obs Observation) []float64 {
	features := make([]float64, portfolioFeatures)

	if obs.InitialEquity > 0 {
		features[0] = clampSigned(obs.Equity/obs.InitialEquity - 1)
		features[4] = clampSigned(obs.TotalPnL / obs.InitialEquity)
	}
	if obs.Equity > 0 {
		features[1] = clampUnit(obs.Cash / obs.Equity)
	}
	features[2] = clampUnit(float64(obs.PositionCount) / 10)

	if obs.PeakEquity > 0 {
		features[3] = clampUnit((obs.PeakEquity - obs.Equity) / obs.PeakEquity)
	}
	features[5] = clampUnit(float64(obs.SymbolDiversity) / 10)

	return features
}

// strategyFeatures: per strategy in canonical order, squashed Sharpe and
// inverse equity-curve drawdown of its return series.
func (e *Environment) strategyFeatures(obs Observation) []float64 {
	features := make([]float64, 0, strategyFeatures*len(strategies.AllStrategyIDs))

	for _, id := range strategies.AllStrategyIDs {
		state := obs.StrategyStates[id]
		features = append(features, math.Tanh(state.Sharpe/2))

		dd := returnSeriesDrawdown(obs.StrategyReturns[id])
		features = append(features, clampUnit(1-dd*5))
	}

	return features
}

func (e *Environment) tradeFrequency(trades []domain.Trade) float64 {
	if len(trades) < 2 {
		return 0
	}

	span := trades[len(trades)-1].ExecutedAt.Sub(trades[0].ExecutedAt)
	if span <= 0 {
		return 1
	}

	perDay := float64(len(trades)) / (span.Hours() / 24)
	return clampUnit(perDay / 10)
}

func (e *Environment) meanTradePnL(obs Observation) float64 {
	if len(obs.RecentTrades) == 0 || obs.InitialEquity <= 0 {
		return 0
	}

	total := 0.0
	for _, t := range obs.RecentTrades {
		total += t.RealizedPnL
	}
	mean := total / float64(len(obs.RecentTrades))
	return clampSigned(mean / obs.InitialEquity * 100)
}

// returnSeriesDrawdown builds a synthetic equity curve from returns and
// measures its max drawdown.
func returnSeriesDrawdown(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	curve := make([]float64, len(returns)+1)
	curve[0] = 1
	for i, r := range returns {
		curve[i+1] = curve[i] * (1 + r)
	}
	return formulas.MaxDrawdown(curve)
}

func tradeWinRate(trades []domain.Trade) float64 {
	closed := 0
	wins := 0
	for _, t := range trades {
		if t.RealizedPnL == 0 {
			continue
		}
		closed++
		if t.Win() {
			wins++
		}
	}
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampSigned(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// ObservationWindow is the default lookback for recent trades.
const ObservationWindow = 30 * 24 * time.Hour
