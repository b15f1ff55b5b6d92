package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/neolight/smarttrader/internal/domain"
)

// MeanReversion buys oversold and sells overbought conditions measured
// by a 14-period RSI with the standard 30/70 thresholds.
type MeanReversion struct {
	period     int
	oversold   float64
	overbought float64
}

// NewMeanReversion creates the RSI mean reversion strategy.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{period: 14, oversold: 30, overbought: 70}
}

func (s *MeanReversion) ID() string   { return MeanReversionRSI }
func (s *MeanReversion) MinBars() int { return s.period + 1 }

func (s *MeanReversion) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	rsi := talib.Rsi(w.Closes, s.period)
	current := rsi[len(rsi)-1]

	if current < s.oversold && !w.HasPosition {
		conf := (s.oversold - current) / s.oversold
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("rsi %.1f oversold", current))
	}

	if current > s.overbought && w.HasPosition {
		conf := (current - s.overbought) / (100 - s.overbought)
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("rsi %.1f overbought", current))
	}

	return hold(s.ID(), w.Symbol, fmt.Sprintf("rsi %.1f neutral", current))
}
