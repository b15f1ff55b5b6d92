// Package allocation decides how the portfolio's equity is split across
// strategies. Allocators are tried in strict priority order; the first
// one that produces a valid weight vector wins the cycle.
package allocation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

const allocationSnapshotsSchema = `
CREATE TABLE IF NOT EXISTS allocation_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	method       TEXT NOT NULL,
	weights_json TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_allocation_snapshots_created ON allocation_snapshots(created_at);
`

// SnapshotRepository persists every accepted allocation vector so the
// current allocation survives restarts and failures.
type SnapshotRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewSnapshotRepository creates the repository and ensures its schema.
func NewSnapshotRepository(portfolioDB *sql.DB, log zerolog.Logger) (*SnapshotRepository, error) {
	if _, err := portfolioDB.Exec(allocationSnapshotsSchema); err != nil {
		return nil, fmt.Errorf("failed to create allocation_snapshots schema: %w", err)
	}

	return &SnapshotRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "allocation_snapshots").Logger(),
	}, nil
}

// Save appends an accepted allocation vector.
func (r *SnapshotRepository) Save(vector domain.AllocationVector) error {
	weights, err := json.Marshal(vector.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal allocation weights: %w", err)
	}

	createdAt := vector.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.portfolioDB.Exec(
		`INSERT INTO allocation_snapshots (method, weights_json, created_at) VALUES (?, ?, ?)`,
		vector.Method, string(weights), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save allocation snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent allocation vector, nil when none
// has been recorded yet.
func (r *SnapshotRepository) GetLatest() (*domain.AllocationVector, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT method, weights_json, created_at
		FROM allocation_snapshots
		ORDER BY id DESC LIMIT 1
	`)

	var method, weightsJSON string
	var createdAt int64
	err := row.Scan(&method, &weightsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest allocation snapshot: %w", err)
	}

	weights := make(map[string]float64)
	if err := json.Unmarshal([]byte(weightsJSON), &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal allocation weights: %w", err)
	}

	return &domain.AllocationVector{
		Method:    method,
		Weights:   weights,
		CreatedAt: time.Unix(createdAt, 0),
	}, nil
}
