package strategies

import (
	"fmt"

	"github.com/neolight/smarttrader/internal/domain"
)

// Turtle implements the classic Donchian channel breakout system: enter
// on a new 20-bar high, exit on a new 10-bar low.
type Turtle struct {
	entryBars int
	exitBars  int
}

// NewTurtle creates the turtle trading strategy with standard parameters.
func NewTurtle() *Turtle {
	return &Turtle{entryBars: 20, exitBars: 10}
}

func (s *Turtle) ID() string   { return TurtleTrading }
func (s *Turtle) MinBars() int { return s.entryBars + 1 }

func (s *Turtle) Evaluate(w Window) domain.Signal {
	if len(w.Closes) < s.MinBars() {
		return hold(s.ID(), w.Symbol, "insufficient history")
	}

	current := w.Last()
	prev := w.Closes[:len(w.Closes)-1]

	high20 := maxOf(prev[len(prev)-s.entryBars:])
	low10 := minOf(prev[len(prev)-s.exitBars:])

	if current > high20 && !w.HasPosition {
		conf := (current - high20) / high20 * 50 // 2% above the channel = full confidence
		return signal(s.ID(), w, domain.DirectionBuy, conf,
			fmt.Sprintf("new %d-bar high %.2f > %.2f", s.entryBars, current, high20))
	}

	if current < low10 && w.HasPosition {
		conf := (low10 - current) / low10 * 50
		return signal(s.ID(), w, domain.DirectionSell, conf,
			fmt.Sprintf("new %d-bar low %.2f < %.2f", s.exitBars, current, low10))
	}

	return hold(s.ID(), w.Symbol, "inside channel")
}

func maxOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
