package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const strategyReturnsSchema = `
CREATE TABLE IF NOT EXISTS strategy_returns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	cycle       INTEGER NOT NULL,
	ret         REAL NOT NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE(strategy_id, cycle)
);
CREATE INDEX IF NOT EXISTS idx_strategy_returns_strategy ON strategy_returns(strategy_id, cycle);
`

// ReturnsRepository stores per-cycle strategy returns. The allocators
// read these series to build correlation and covariance estimates.
type ReturnsRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewReturnsRepository creates the repository and ensures its schema.
func NewReturnsRepository(portfolioDB *sql.DB, log zerolog.Logger) (*ReturnsRepository, error) {
	if _, err := portfolioDB.Exec(strategyReturnsSchema); err != nil {
		return nil, fmt.Errorf("failed to create strategy_returns schema: %w", err)
	}

	return &ReturnsRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "strategy_returns").Logger(),
	}, nil
}

// Record stores one strategy's return for a cycle. Re-recording the same
// cycle overwrites the previous value.
func (r *ReturnsRepository) Record(strategyID string, cycle int64, ret float64) error {
	query := `
		INSERT INTO strategy_returns (strategy_id, cycle, ret, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(strategy_id, cycle) DO UPDATE SET ret = excluded.ret
	`

	_, err := r.portfolioDB.Exec(query, strategyID, cycle, ret, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record return for %s cycle %d: %w", strategyID, cycle, err)
	}
	return nil
}

// GetSeries returns the most recent returns for one strategy, oldest first.
func (r *ReturnsRepository) GetSeries(strategyID string, limit int) ([]float64, error) {
	query := `
		SELECT ret FROM (
			SELECT ret, cycle FROM strategy_returns
			WHERE strategy_id = ?
			ORDER BY cycle DESC LIMIT ?
		) ORDER BY cycle ASC
	`

	rows, err := r.portfolioDB.Query(query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get returns for %s: %w", strategyID, err)
	}
	defer rows.Close()

	var series []float64
	for rows.Next() {
		var ret float64
		if err := rows.Scan(&ret); err != nil {
			return nil, fmt.Errorf("failed to scan return: %w", err)
		}
		series = append(series, ret)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate returns: %w", err)
	}
	return series, nil
}

// GetAlignedSeries returns equal-length recent return series for the
// given strategies. The common length is the shortest available series;
// an empty map is returned when any strategy has no history yet.
func (r *ReturnsRepository) GetAlignedSeries(strategyIDs []string, limit int) (map[string][]float64, error) {
	series := make(map[string][]float64, len(strategyIDs))
	shortest := limit

	for _, id := range strategyIDs {
		s, err := r.GetSeries(id, limit)
		if err != nil {
			return nil, err
		}
		if len(s) == 0 {
			return map[string][]float64{}, nil
		}
		if len(s) < shortest {
			shortest = len(s)
		}
		series[id] = s
	}

	for id, s := range series {
		series[id] = s[len(s)-shortest:]
	}
	return series, nil
}
