package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// RiskLimitsStore implements storage.RiskLimitsStore using PostgreSQL.
// The limits are one JSONB document in a single-row table; an upsert
// replaces the whole document, so readers never see a partial update.
type RiskLimitsStore struct {
	pool *Pool
}

// NewRiskLimitsStore creates a new RiskLimitsStore.
func NewRiskLimitsStore(pool *Pool) *RiskLimitsStore {
	return &RiskLimitsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RiskLimitsStore = (*RiskLimitsStore)(nil)

// Load retrieves the saved limits. Returns ErrNotFound when the store
// is empty.
func (s *RiskLimitsStore) Load(ctx context.Context) (*domain.RiskLimits, error) {
	query := `SELECT data FROM risk_limits WHERE id = 1`

	var data []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&data); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load risk limits: %w", err)
	}

	var limits domain.RiskLimits
	if err := json.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("decode risk limits: %w", err)
	}
	return &limits, nil
}

// Save atomically replaces the saved limits.
func (s *RiskLimitsStore) Save(ctx context.Context, limits *domain.RiskLimits) error {
	if limits == nil {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("encode risk limits: %w", err)
	}

	query := `
		INSERT INTO risk_limits (id, data, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("save risk limits: %w", err)
	}
	return nil
}
