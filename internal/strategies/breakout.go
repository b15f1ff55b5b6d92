package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/neolight/smarttrader/internal/domain"
)

// Breakout trades momentum through the Bollinger envelope: a close above
// the upper band continues up, a close below the lower band while holding
// is the exit. The inverse of the mean reversion reading of the same bands.
type Breakout struct {
	period int
	numDev float64
}

// NewBreakout creates the band breakout strategy.
func NewBreakout() *Breakout {
	return &Breakout{period: 20, numDev: 2.0}
}

func (s *Breakout) ID() string   { return BreakoutTrading }
func (s *Breakout) MinBars() int { return s.period }

func (s *Breakout) Evaluate(w Window) domain.Signal {
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

	if current > upperNow && !w.HasPosition {
		conf := (current - upperNow) / bandWidth
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("breakout above upper band %.2f", upperNow))
	}

	if current < lowerNow && w.HasPosition {
		conf := (lowerNow - current) / bandWidth
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("breakdown below lower band %.2f", lowerNow))
	}

	return hold(s.ID(), w.Symbol, "inside bands")
}
