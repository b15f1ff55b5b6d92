// Package execution runs the trading cycle: quotes in, signals
// evaluated, allocations refreshed, orders sized and filled against the
// paper broker, results written back to the ledger.
package execution

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// Order is a request against the paper broker. Quantity is in shares.
type Order struct {
	Symbol     string
	Side       domain.Direction
	Quantity   float64
	Price      float64
	StrategyID string
}

// PaperBroker simulates fills at the quoted price with no slippage or
// commission. All state is in memory; the trade ledger is the durable
// record.
type PaperBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	log       zerolog.Logger
}

// NewPaperBroker creates a broker holding the initial equity as cash.
func NewPaperBroker(initialCash float64, log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		cash:      initialCash,
		positions: make(map[string]*domain.Position),
		log:       log.With().Str("component", "paper_broker").Logger(),
	}
}

// SubmitOrder fills an order immediately. Buys must be covered by cash;
// sells must be covered by the open position. Sells realize P&L against
// the position's average price.
func (b *PaperBroker) SubmitOrder(order Order) (domain.Trade, error) {
	if order.Quantity <= 0 || math.IsNaN(order.Quantity) {
		return domain.Trade{}, fmt.Errorf("invalid quantity %f", order.Quantity)
	}
	if order.Price <= 0 || math.IsNaN(order.Price) {
		return domain.Trade{}, fmt.Errorf("invalid price %f", order.Price)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var realized float64
	switch order.Side {
	case domain.DirectionBuy:
		cost := order.Quantity * order.Price
		if cost > b.cash {
			return domain.Trade{}, fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, b.cash)
		}

		b.cash -= cost
		pos, ok := b.positions[order.Symbol]
		if !ok {
			b.positions[order.Symbol] = &domain.Position{
				Symbol:   order.Symbol,
				Quantity: order.Quantity,
				AvgPrice: order.Price,
			}
		} else {
			total := pos.Quantity + order.Quantity
			pos.AvgPrice = (pos.AvgPrice*pos.Quantity + order.Price*order.Quantity) / total
			pos.Quantity = total
		}

	case domain.DirectionSell:
		pos, ok := b.positions[order.Symbol]
		if !ok || pos.Quantity < order.Quantity {
			return domain.Trade{}, fmt.Errorf("insufficient position in %s", order.Symbol)
		}

		realized = (order.Price - pos.AvgPrice) * order.Quantity
		b.cash += order.Quantity * order.Price
		pos.Quantity -= order.Quantity
		if pos.Quantity <= 1e-9 {
			delete(b.positions, order.Symbol)
		}

	default:
		return domain.Trade{}, fmt.Errorf("unsupported order side %s", order.Side)
	}

	trade := domain.Trade{
		OrderID:     uuid.New().String(),
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       order.Price,
		StrategyID:  order.StrategyID,
		RealizedPnL: realized,
		ExecutedAt:  time.Now(),
	}

	b.log.Info().
		Str("order_id", trade.OrderID).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Float64("realized_pnl", realized).
		Msg("order filled")

	return trade, nil
}

// Cash returns the free cash balance.
func (b *PaperBroker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// HasPosition reports whether a position is open in the symbol.
func (b *PaperBroker) HasPosition(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[symbol]
	return ok
}

// Position returns a copy of the open position, nil when flat.
func (b *PaperBroker) Position(symbol string) *domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return nil
	}
	copied := *pos
	return &copied
}

// Positions returns a copy of every open position.
func (b *PaperBroker) Positions() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Equity marks open positions at the given prices and adds cash.
// Symbols without a price are marked at their average entry.
func (b *PaperBroker) Equity(prices map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for symbol, pos := range b.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AvgPrice
		}
		equity += pos.MarketValue(price)
	}
	return equity
}
