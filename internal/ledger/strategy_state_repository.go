package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

const strategyStateSchema = `
CREATE TABLE IF NOT EXISTS strategy_state (
	strategy_id TEXT PRIMARY KEY,
	sharpe      REAL NOT NULL DEFAULT 0,
	total_pnl   REAL NOT NULL DEFAULT 0,
	trade_count INTEGER NOT NULL DEFAULT 0,
	win_count   INTEGER NOT NULL DEFAULT 0,
	avg_win     REAL NOT NULL DEFAULT 0,
	avg_loss    REAL NOT NULL DEFAULT 0,
	retired     INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);
`

// StrategyStateRepository persists per-strategy performance state in the
// portfolio database.
type StrategyStateRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewStrategyStateRepository creates the repository and ensures its schema.
func NewStrategyStateRepository(portfolioDB *sql.DB, log zerolog.Logger) (*StrategyStateRepository, error) {
	if _, err := portfolioDB.Exec(strategyStateSchema); err != nil {
		return nil, fmt.Errorf("failed to create strategy_state schema: %w", err)
	}

	return &StrategyStateRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "strategy_state").Logger(),
	}, nil
}

// Upsert writes the full state row for a strategy.
func (r *StrategyStateRepository) Upsert(state domain.StrategyState) error {
	if state.StrategyID == "" {
		return fmt.Errorf("strategy_id is required")
	}

	query := `
		INSERT INTO strategy_state
		(strategy_id, sharpe, total_pnl, trade_count, win_count, avg_win, avg_loss, retired, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			sharpe = excluded.sharpe,
			total_pnl = excluded.total_pnl,
			trade_count = excluded.trade_count,
			win_count = excluded.win_count,
			avg_win = excluded.avg_win,
			avg_loss = excluded.avg_loss,
			retired = excluded.retired,
			updated_at = excluded.updated_at
	`

	_, err := r.portfolioDB.Exec(query,
		state.StrategyID,
		state.Sharpe,
		state.TotalPnL,
		state.TradeCount,
		state.WinCount,
		state.AvgWin,
		state.AvgLoss,
		boolToInt(state.Retired),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy state for %s: %w", state.StrategyID, err)
	}

	return nil
}

// Get returns the state for one strategy, nil when absent.
func (r *StrategyStateRepository) Get(strategyID string) (*domain.StrategyState, error) {
	query := `
		SELECT strategy_id, sharpe, total_pnl, trade_count, win_count, avg_win, avg_loss, retired, updated_at
		FROM strategy_state WHERE strategy_id = ?
	`

	state, err := scanStrategyState(r.portfolioDB.QueryRow(query, strategyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy state for %s: %w", strategyID, err)
	}

	return &state, nil
}

// GetAll returns the state of every known strategy keyed by ID.
func (r *StrategyStateRepository) GetAll() (map[string]domain.StrategyState, error) {
	query := `
		SELECT strategy_id, sharpe, total_pnl, trade_count, win_count, avg_win, avg_loss, retired, updated_at
		FROM strategy_state
	`

	rows, err := r.portfolioDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.StrategyState)
	for rows.Next() {
		state, err := scanStrategyState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy state: %w", err)
		}
		states[state.StrategyID] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate strategy states: %w", err)
	}
	return states, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategyState(s scanner) (domain.StrategyState, error) {
	var state domain.StrategyState
	var retired int
	var updatedAt int64

	err := s.Scan(&state.StrategyID, &state.Sharpe, &state.TotalPnL, &state.TradeCount,
		&state.WinCount, &state.AvgWin, &state.AvgLoss, &retired, &updatedAt)
	if err != nil {
		return domain.StrategyState{}, err
	}

	state.Retired = retired != 0
	state.UpdatedAt = time.Unix(updatedAt, 0)
	return state, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
