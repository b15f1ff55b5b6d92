package strategies

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/neolight/smarttrader/internal/domain"
)

// MACD trades momentum on the 12/26/9 MACD: buy when the MACD line is
// above its signal line with a positive histogram, sell a held position
// when the line drops below the signal.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates the MACD momentum strategy.
func NewMACD() *MACD {
	return &MACD{fastPeriod: 12, slowPeriod: 26, signalPeriod: 9}
}

func (s *MACD) ID() string   { return MACDMomentum }
func (s *MACD) MinBars() int { return s.slowPeriod + s.signalPeriod }

func (s *MACD) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	macdLine, signalLine, histogram := talib.Macd(w.Closes, s.fastPeriod, s.slowPeriod, s.signalPeriod)

	macdNow := macdLine[len(macdLine)-1]
	signalNow := signalLine[len(signalLine)-1]
	histNow := histogram[len(histogram)-1]

	current := w.Last()
	if current <= 0 {
		return hold(s.ID(), w.Symbol, "invalid price")
	}

	// Histogram as a fraction of price, 0.5% = full confidence
	conf := math.Abs(histNow) / current * 200

	if macdNow > signalNow && histNow > 0 && !w.HasPosition {
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("macd %.3f above signal %.3f", macdNow, signalNow))
	}

	if macdNow < signalNow && w.HasPosition {
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("macd %.3f below signal %.3f", macdNow, signalNow))
	}

	return hold(s.ID(), w.Symbol, "no macd edge")
}
