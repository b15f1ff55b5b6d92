package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/neolight/smarttrader/internal/domain"
)

// Bollinger plays mean reversion against the band envelope: buy a close
// below the lower band, sell a held position closing above the upper band.
type Bollinger struct {
	period int
	numDev float64
}

// NewBollinger creates the band mean reversion strategy.
func NewBollinger() *Bollinger {
	return &Bollinger{period: 20, numDev: 2.0}
}

func (s *Bollinger) ID() string   { return BollingerBands }
func (s *Bollinger) MinBars() int { return s.period }

func (s *Bollinger) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	upper, middle, lower := talib.BBands(w.Closes, s.period, s.numDev, s.numDev, talib.SMA)

	current := w.Last()
	upperNow := upper[len(upper)-1]
	middleNow := middle[len(middle)-1]
	lowerNow := lower[len(lower)-1]

	bandWidth := upperNow - middleNow
	if bandWidth <= 0 {
		return hold(s.ID(), w.Symbol, "degenerate bands")
	}

	if current < lowerNow && !w.HasPosition {
		conf := (lowerNow - current) / bandWidth
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("oversold below lower band %.2f", lowerNow))
	}

	if current > upperNow && w.HasPosition {
		conf := (current - upperNow) / bandWidth
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("overbought above upper band %.2f", upperNow))
	}

	return hold(s.ID(), w.Symbol, "inside bands")
}
