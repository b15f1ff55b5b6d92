// Package domain holds the core models shared across the engine.
package domain

import (
	"time"
)

// Direction is the trade direction a strategy votes for.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Quote represents a validated market quote served by the quote service.
type Quote struct {
	Symbol    string    // Security symbol
	Price     float64   // Last trade or mid price, always > 0
	Source    string    // Which source produced it (alpaca, finnhub, cache)
	FetchedAt time.Time // When the price was fetched from the source
	Sequence  uint64    // Monotonic counter assigned by the quote service
	Stale     bool      // True when served from cache past the freshness window
}

// Age returns how long ago the quote was fetched.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

// Signal is a single strategy's vote for one symbol on one cycle.
type Signal struct {
	StrategyID string    // Stable strategy identifier (e.g. "turtle_trading")
	Symbol     string    // Security symbol the vote applies to
	Direction  Direction // buy, sell or hold
	Confidence float64   // Vote strength in [0, 1]; 0 for hold
	Reason     string    // Short human-readable rationale
	CreatedAt  time.Time
}

// Trade is one executed fill recorded in the append-only ledger.
type Trade struct {
	ID          int64
	OrderID     string    // Broker order confirmation ID
	Symbol      string    // Security symbol
	Side        Direction // buy or sell
	Quantity    float64   // Number of shares, always > 0
	Price       float64   // Execution price
	StrategyID  string    // Strategy whose signal produced the trade
	RealizedPnL float64   // Realized profit/loss; non-zero only on reductions
	ExecutedAt  time.Time
	CreatedAt   time.Time
}

// Win reports whether the trade closed at a profit.
func (t Trade) Win() bool {
	return t.RealizedPnL > 0
}

// AllocationVector is one accepted capital allocation across strategies.
type AllocationVector struct {
	Method    string             // Producing allocator: rl, black_litterman, hrp, sharpe_fallback
	Weights   map[string]float64 // strategy ID -> weight, sums to 1
	CreatedAt time.Time
}

// Weight returns the allocation for a strategy, 0 when absent.
func (v AllocationVector) Weight(strategyID string) float64 {
	return v.Weights[strategyID]
}

// StrategyState is the persisted performance record of one strategy.
type StrategyState struct {
	StrategyID string
	Sharpe     float64 // Trailing annualized Sharpe ratio
	TotalPnL   float64 // Cumulative realized P&L
	TradeCount int     // Closed trades attributed to the strategy
	WinCount   int     // Closed trades with positive P&L
	AvgWin     float64 // Mean profit of winning trades
	AvgLoss    float64 // Mean loss of losing trades, stored positive
	Retired    bool    // Retired strategies are excluded from allocation
	UpdatedAt  time.Time
}

// WinRate returns the fraction of winning trades, 0 with no history.
func (s StrategyState) WinRate() float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(s.TradeCount)
}

// RewardRisk returns avg win / avg loss, 0 when undefined.
func (s StrategyState) RewardRisk() float64 {
	if s.AvgLoss <= 0 {
		return 0
	}
	return s.AvgWin / s.AvgLoss
}

// Position is an open paper position.
type Position struct {
	Symbol   string
	Quantity float64 // Signed; the paper broker only opens longs
	AvgPrice float64 // Volume-weighted average entry price
}

// MarketValue returns the position value at the given price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}
