package strategies

import (
	"fmt"
	"math"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// Pairs trades the spread between the symbol and a benchmark series.
// The spread is the log price ratio; a z-score beyond ±2 means the
// symbol has diverged from the benchmark and should revert.
type Pairs struct {
	lookback int
	entryZ   float64
}

// NewPairs creates the statistical arbitrage strategy.
func NewPairs() *Pairs {
	return &Pairs{lookback: 30, entryZ: 2.0}
}

func (s *Pairs) ID() string   { return PairsTrading }
func (s *Pairs) MinBars() int { return s.lookback }

func (s *Pairs) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}
	// Without a benchmark series there is no pair to trade
	if len(w.Benchmark) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "no benchmark series")
	}

	n := s.lookback
	closes := w.Closes[len(w.Closes)-n:]
	bench := w.Benchmark[len(w.Benchmark)-n:]

	spread := make([]float64, n)
	for i := 0; i < n; i++ {
		if closes[i] <= 0 || bench[i] <= 0 {
			return hold(s.ID(), w.Symbol, "invalid prices in spread")
		}
		spread[i] = math.Log(closes[i] / bench[i])
	}

	mean := formulas.Mean(spread)
	std := formulas.StdDev(spread)
	if std == 0 {
		return hold(s.ID(), w.Symbol, "flat spread")
	}

	z := (spread[n-1] - mean) / std
	conf := (math.Abs(z) - s.entryZ) / s.entryZ

	if z < -s.entryZ && !w.HasPosition {
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("spread z-score %.2f below -%.1f", z, s.entryZ))
	}

	if z > s.entryZ && w.HasPosition {
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("spread z-score %.2f above %.1f", z, s.entryZ))
	}

	return hold(s.ID(), w.Symbol, fmt.Sprintf("spread z-score %.2f neutral", z))
}
