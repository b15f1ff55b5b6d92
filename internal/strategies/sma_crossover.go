package strategies

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/neolight/smarttrader/internal/domain"
)

// SMACrossover follows the trend with a 20/50 moving average crossover,
// requiring price above the fast average for entries.
type SMACrossover struct {
	fastPeriod int
	slowPeriod int
}

// NewSMACrossover creates the momentum crossover strategy.
func NewSMACrossover() *SMACrossover {
	return &SMACrossover{fastPeriod: 20, slowPeriod: 50}
}

func (s *SMACrossover) ID() string   { return MomentumSMACrossover }
func (s *SMACrossover) MinBars() int { return s.slowPeriod }

func (s *SMACrossover) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	fast := talib.Sma(w.Closes, s.fastPeriod)
	slow := talib.Sma(w.Closes, s.slowPeriod)

	current := w.Last()
	fastNow := fast[len(fast)-1]
	slowNow := slow[len(slow)-1]

	if fastNow > slowNow && current > fastNow && !w.HasPosition {
		conf := (fastNow - slowNow) / slowNow * 50 // 2% spread = full confidence
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("fast sma %.2f above slow %.2f", fastNow, slowNow))
	}

	if fastNow < slowNow && w.HasPosition {
		conf := (slowNow - fastNow) / slowNow * 50
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("fast sma %.2f below slow %.2f", fastNow, slowNow))
	}

	return hold(s.ID(), w.Symbol, "no crossover edge")
}
