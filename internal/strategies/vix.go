package strategies

import (
	"fmt"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// VolatilityRegime is the fear/greed contrarian play. Realized benchmark
// volatility stands in for a volatility index: buy into fear spikes,
// unwind positions when volatility gets complacently low.
type VolatilityRegime struct {
	lookback      int
	fearThreshold float64 // Annualized vol above this = fear
	calmThreshold float64 // Annualized vol below this = greed
}

// NewVolatilityRegime creates the volatility regime strategy.
func NewVolatilityRegime() *VolatilityRegime {
	return &VolatilityRegime{lookback: 21, fearThreshold: 0.30, calmThreshold: 0.12}
}

func (s *VolatilityRegime) ID() string   { return VIXStrategy }
func (s *VolatilityRegime) MinBars() int { return s.lookback + 1 }

func (s *VolatilityRegime) Evaluate(w Window) domain.Signal {
	series := w.Benchmark
	if len(series) < s.MinBars() {
		// Fall back to the symbol's own series without a benchmark
		series = w.Closes
	}
	if len(series) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	returns := formulas.CalculateReturns(series[len(series)-s.MinBars():])
	vol := formulas.AnnualizedVolatility(returns)

	if vol > s.fearThreshold && !w.HasPosition {
		conf := (vol - s.fearThreshold) / s.fearThreshold
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("fear regime, realized vol %.1f%%", vol*100))
	}

	if vol < s.calmThreshold && w.HasPosition {
		conf := (s.calmThreshold - vol) / s.calmThreshold
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("complacency regime, realized vol %.1f%%", vol*100))
	}

	return hold(s.ID(), w.Symbol, fmt.Sprintf("normal vol regime %.1f%%", vol*100))
}
