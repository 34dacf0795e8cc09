package postgres

import (
	"context"
	"fmt"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// TradeHistoryStore implements storage.TradeHistoryStore using
// PostgreSQL. The log is capped: each append trims rows past
// storage.HistoryCap in the same transaction.
type TradeHistoryStore struct {
	pool *Pool
}

// NewTradeHistoryStore creates a new TradeHistoryStore.
func NewTradeHistoryStore(pool *Pool) *TradeHistoryStore {
	return &TradeHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)

// Append adds an outcome, discarding the oldest entries past the cap.
func (s *TradeHistoryStore) Append(ctx context.Context, outcome *domain.TradeOutcome) error {
	if outcome == nil || outcome.Instrument == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO trade_history (
			instrument, direction, entry_price, exit_price,
			gain_percent, realized_pnl, is_win, reason, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, insert,
		outcome.Instrument, string(outcome.Direction), outcome.EntryPrice, outcome.ExitPrice,
		outcome.GainPercent, outcome.RealizedPnL, outcome.IsWin, outcome.Reason, outcome.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade outcome: %w", err)
	}

	trim := `
		DELETE FROM trade_history
		WHERE id IN (
			SELECT id FROM trade_history ORDER BY id DESC OFFSET $1
		)
	`
	if _, err := tx.Exec(ctx, trim, storage.HistoryCap); err != nil {
		return fmt.Errorf("trim trade history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent outcomes, newest first.
// limit <= 0 means all retained entries.
func (s *TradeHistoryStore) GetRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	if limit <= 0 || limit > storage.HistoryCap {
		limit = storage.HistoryCap
	}

	query := `
		SELECT instrument, direction, entry_price, exit_price,
		       gain_percent, realized_pnl, is_win, reason, closed_at
		FROM trade_history
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent trade history: %w", err)
	}
	defer rows.Close()

	var outcomes []*domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var direction string
		err := rows.Scan(
			&o.Instrument, &direction, &o.EntryPrice, &o.ExitPrice,
			&o.GainPercent, &o.RealizedPnL, &o.IsWin, &o.Reason, &o.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade outcome row: %w", err)
		}
		o.Direction = domain.Direction(direction)
		outcomes = append(outcomes, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade outcome rows: %w", err)
	}

	return outcomes, nil
}
