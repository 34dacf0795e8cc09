package clickhouse

import (
	"context"
	"fmt"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// TradeHistoryArchive is the uncapped analytics copy of every realized
// outcome. MergeTree keeps the full log; the authoritative capped
// history stays in the primary store.
type TradeHistoryArchive struct {
	conn *Conn
}

// NewTradeHistoryArchive creates a new TradeHistoryArchive.
func NewTradeHistoryArchive(conn *Conn) *TradeHistoryArchive {
	return &TradeHistoryArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeHistoryAppender = (*TradeHistoryArchive)(nil)

// Append adds one outcome to the archive.
func (s *TradeHistoryArchive) Append(ctx context.Context, outcome *domain.TradeOutcome) error {
	if outcome == nil || outcome.Instrument == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_history_archive (
			instrument, direction, entry_price, exit_price,
			gain_percent, realized_pnl, is_win, reason, closed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		outcome.Instrument, string(outcome.Direction), outcome.EntryPrice, outcome.ExitPrice,
		outcome.GainPercent, outcome.RealizedPnL, outcome.IsWin, outcome.Reason, uint64(outcome.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InstrumentPnL is the per-instrument aggregate over the archive.
type InstrumentPnL struct {
	Instrument  string
	Trades      int
	Wins        int
	RealizedPnL float64
}

// PnLByInstrument aggregates realized P&L per instrument, largest
// trade count first.
func (s *TradeHistoryArchive) PnLByInstrument(ctx context.Context) ([]*InstrumentPnL, error) {
	query := `
		SELECT instrument, count() AS trades, countIf(is_win) AS wins, sum(realized_pnl) AS pnl
		FROM trade_history_archive
		GROUP BY instrument
		ORDER BY trades DESC, instrument ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pnl by instrument: %w", err)
	}
	defer rows.Close()

	var out []*InstrumentPnL
	for rows.Next() {
		var p InstrumentPnL
		var trades, wins uint64
		if err := rows.Scan(&p.Instrument, &trades, &wins, &p.RealizedPnL); err != nil {
			return nil, fmt.Errorf("scan pnl row: %w", err)
		}
		p.Trades = int(trades)
		p.Wins = int(wins)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl rows: %w", err)
	}

	return out, nil
}

// GetByInstrument retrieves all archived outcomes for an instrument,
// oldest first.
func (s *TradeHistoryArchive) GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeOutcome, error) {
	query := `
		SELECT instrument, direction, entry_price, exit_price,
		       gain_percent, realized_pnl, is_win, reason, closed_at
		FROM trade_history_archive
		WHERE instrument = ?
		ORDER BY closed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("query archive by instrument: %w", err)
	}
	defer rows.Close()

	var outcomes []*domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var direction string
		var closedAt uint64
		err := rows.Scan(
			&o.Instrument, &direction, &o.EntryPrice, &o.ExitPrice,
			&o.GainPercent, &o.RealizedPnL, &o.IsWin, &o.Reason, &closedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		o.Direction = domain.Direction(direction)
		o.ClosedAt = int64(closedAt)
		outcomes = append(outcomes, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}

	return outcomes, nil
}
