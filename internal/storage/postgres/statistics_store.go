package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// StatisticsStore implements storage.StatisticsStore using PostgreSQL.
// Same single-row JSONB layout as the risk limits store.
type StatisticsStore struct {
	pool *Pool
}

// NewStatisticsStore creates a new StatisticsStore.
func NewStatisticsStore(pool *Pool) *StatisticsStore {
	return &StatisticsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StatisticsStore = (*StatisticsStore)(nil)

// Load retrieves the saved ledger state. Returns ErrNotFound when the
// store is empty.
func (s *StatisticsStore) Load(ctx context.Context) (*domain.Statistics, error) {
	query := `SELECT data FROM statistics WHERE id = 1`

	var data []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&data); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load statistics: %w", err)
	}

	var stats domain.Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}
	return &stats, nil
}

// Save atomically replaces the saved ledger state.
func (s *StatisticsStore) Save(ctx context.Context, stats *domain.Statistics) error {
	if stats == nil {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}

	query := `
		INSERT INTO statistics (id, data, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}
