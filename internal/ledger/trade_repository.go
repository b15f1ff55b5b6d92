// Package ledger persists trades and strategy performance state.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// tradesColumns is the list of columns for the trades table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match scanTrade() expectations.
const tradesColumns = `id, order_id, symbol, side, quantity, price, strategy_id, realized_pnl, executed_at, created_at`

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id     TEXT NOT NULL UNIQUE,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	quantity     REAL NOT NULL CHECK (quantity > 0),
	price        REAL NOT NULL CHECK (price > 0),
	strategy_id  TEXT NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	executed_at  INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);
CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);
`

// TradeRepository handles the append-only trade ledger. Trades are never
// updated or deleted once written.
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewTradeRepository creates a trade repository and ensures its schema.
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) (*TradeRepository, error) {
	if _, err := ledgerDB.Exec(tradesSchema); err != nil {
		return nil, fmt.Errorf("failed to create trades schema: %w", err)
	}

	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}, nil
}

// Create appends a trade record.
func (r *TradeRepository) Create(trade domain.Trade) error {
	if err := validateTrade(trade); err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	// Safety check in addition to the UNIQUE index constraint
	exists, err := r.Exists(trade.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check for existing trade: %w", err)
	}
	if exists {
		r.log.Debug().
			Str("order_id", trade.OrderID).
			Msg("Trade with order_id already exists, skipping duplicate")
		return nil
	}

	query := `
		INSERT INTO trades
		(order_id, symbol, side, quantity, price, strategy_id, realized_pnl, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.ledgerDB.Exec(query,
		trade.OrderID,
		strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		string(trade.Side),
		trade.Quantity,
		trade.Price,
		trade.StrategyID,
		trade.RealizedPnL,
		trade.ExecutedAt.Unix(),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Str("strategy", trade.StrategyID).
		Float64("quantity", trade.Quantity).
		Float64("realized_pnl", trade.RealizedPnL).
		Msg("Trade recorded")

	return nil
}

// Exists checks if a trade with the given order_id already exists
func (r *TradeRepository) Exists(orderID string) (bool, error) {
	var exists int
	err := r.ledgerDB.QueryRow("SELECT 1 FROM trades WHERE order_id = ? LIMIT 1", orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return true, nil
}

// GetHistory retrieves trade history, most recent first.
func (r *TradeRepository) GetHistory(limit int) ([]domain.Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades ORDER BY executed_at DESC, id DESC LIMIT ?"

	rows, err := r.ledgerDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// GetByStrategy retrieves trades attributed to one strategy, oldest first.
func (r *TradeRepository) GetByStrategy(strategyID string, limit int) ([]domain.Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE strategy_id = ? ORDER BY executed_at ASC, id ASC LIMIT ?"

	rows, err := r.ledgerDB.Query(query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades for strategy %s: %w", strategyID, err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// GetSince retrieves trades executed at or after the cutoff, oldest first.
func (r *TradeRepository) GetSince(cutoff time.Time) ([]domain.Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE executed_at >= ? ORDER BY executed_at ASC, id ASC"

	rows, err := r.ledgerDB.Query(query, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get trades since %s: %w", cutoff, err)
	}
	defer rows.Close()

	return r.scanTrades(rows)
}

// Count returns the total number of recorded trades.
func (r *TradeRepository) Count() (int, error) {
	var count int
	if err := r.ledgerDB.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func (r *TradeRepository) scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var executedAt, createdAt int64

		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Quantity, &t.Price,
			&t.StrategyID, &t.RealizedPnL, &executedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Side = domain.Direction(side)
		t.ExecutedAt = time.Unix(executedAt, 0)
		t.CreatedAt = time.Unix(createdAt, 0)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

func validateTrade(trade domain.Trade) error {
	if trade.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if strings.TrimSpace(trade.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if trade.Side != domain.DirectionBuy && trade.Side != domain.DirectionSell {
		return fmt.Errorf("invalid side %q", trade.Side)
	}
	if trade.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", trade.Quantity)
	}
	if trade.Price <= 0 {
		return fmt.Errorf("price must be positive, got %f", trade.Price)
	}
	if trade.StrategyID == "" {
		return fmt.Errorf("strategy_id is required")
	}
	return nil
}
