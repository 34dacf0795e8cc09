package storage

import (
	"context"

	"signal-trade-engine/internal/domain"
)

// HistoryCap is the maximum number of trade outcomes retained by a
// TradeHistoryStore. Older entries are discarded.
const HistoryCap = 1000

// RiskLimitsStore persists the risk configuration.
type RiskLimitsStore interface {
	// Load retrieves the saved limits. Returns ErrNotFound when the
	// store is empty; callers then apply domain.DefaultRiskLimits.
	Load(ctx context.Context) (*domain.RiskLimits, error)

	// Save atomically replaces the saved limits. A concurrent Load
	// never observes a partially written record.
	Save(ctx context.Context, limits *domain.RiskLimits) error
}

// StatisticsStore persists the statistics ledger state.
type StatisticsStore interface {
	// Load retrieves the saved ledger state. Returns ErrNotFound when
	// the store is empty.
	Load(ctx context.Context) (*domain.Statistics, error)

	// Save atomically replaces the saved ledger state.
	Save(ctx context.Context, stats *domain.Statistics) error
}

// TradeHistoryStore is an append-only log of realized trade outcomes,
// capped at the last HistoryCap entries.
type TradeHistoryStore interface {
	// Append adds an outcome, discarding the oldest entry past the cap.
	Append(ctx context.Context, outcome *domain.TradeOutcome) error

	// GetRecent retrieves the most recent outcomes, newest first.
	// limit <= 0 means all retained entries.
	GetRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error)
}

// TradeHistoryAppender receives a best-effort copy of every recorded
// outcome. Unlike TradeHistoryStore it is uncapped; analytics archives
// implement it.
type TradeHistoryAppender interface {
	Append(ctx context.Context, outcome *domain.TradeOutcome) error
}
