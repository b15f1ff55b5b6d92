// Package sizing converts a signal plus a strategy's allocation into a
// dollar position size using fractional Kelly with hard caps.
package sizing

import (
	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
	"github.com/neolight/smarttrader/pkg/formulas"
)

// Cap reasons reported on a Decision.
const (
	CapKelly       = "kelly"
	CapMaxPosition = "max_position"
	CapNone        = "none"
)

// Config holds the sizing knobs.
type Config struct {
	KellyMultiplier   float64 // fraction of full Kelly to actually bet
	KellyCap          float64 // ceiling on the Kelly fraction itself
	MaxPositionPct    float64 // ceiling on position size as a share of equity
	MinTradesForKelly int     // below this, use the fixed fraction
	FixedFractionPct  float64 // cold-start fraction of equity
}

// Decision is the sizing outcome for one prospective entry.
type Decision struct {
	Notional      float64 // dollars to deploy
	KellyFraction float64 // fraction after multiplier and cap
	RawKelly      float64 // unclamped Kelly fraction
	CappedBy      string
	ColdStart     bool // true when the fixed fraction was used
}

// Sizer computes position sizes from strategy statistics.
type Sizer struct {
	cfg Config
	log zerolog.Logger
}

// NewSizer creates a sizer.
func NewSizer(cfg Config, log zerolog.Logger) *Sizer {
	return &Sizer{
		cfg: cfg,
		log: log.With().Str("component", "sizer").Logger(),
	}
}

// Size computes the notional for one entry. The strategy's Kelly
// fraction is scaled by its allocation weight and the account equity,
// then capped at MaxPositionPct of equity.
func (s *Sizer) Size(state domain.StrategyState, allocationWeight, equity float64) Decision {
	if equity <= 0 || allocationWeight <= 0 {
		return Decision{CappedBy: CapNone}
	}

	decision := s.kellyFraction(state)

	notional := decision.KellyFraction * allocationWeight * equity
	maxNotional := s.cfg.MaxPositionPct * equity
	if notional > maxNotional {
		notional = maxNotional
		decision.CappedBy = CapMaxPosition
	}

	decision.Notional = notional
	return decision
}

// kellyFraction computes the clamped per-strategy fraction. Strategies
// without enough closed trades get the fixed cold-start fraction.
func (s *Sizer) kellyFraction(state domain.StrategyState) Decision {
	if state.TradeCount < s.cfg.MinTradesForKelly {
		return Decision{
			KellyFraction: s.cfg.FixedFractionPct,
			CappedBy:      CapNone,
			ColdStart:     true,
		}
	}

	raw, ok := formulas.KellyFraction(state.WinRate(), state.RewardRisk())
	if !ok {
		return Decision{
			KellyFraction: s.cfg.FixedFractionPct,
			CappedBy:      CapNone,
			ColdStart:     true,
		}
	}

	fraction := raw * s.cfg.KellyMultiplier
	cappedBy := CapNone

	if fraction < 0 {
		fraction = 0
	}
	if raw > s.cfg.KellyCap {
		// The cap applies to the raw fraction before the multiplier so
		// an extreme edge estimate cannot dominate the book.
		fraction = s.cfg.KellyCap * s.cfg.KellyMultiplier
		cappedBy = CapKelly
	}

	return Decision{
		KellyFraction: fraction,
		RawKelly:      raw,
		CappedBy:      cappedBy,
	}
}
