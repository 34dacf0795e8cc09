package memory

import (
	"context"
	"sync"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// TradeHistoryStore is an in-memory implementation of
// storage.TradeHistoryStore, capped at storage.HistoryCap entries.
type TradeHistoryStore struct {
	mu      sync.RWMutex
	entries []*domain.TradeOutcome // oldest first
}

// NewTradeHistoryStore creates an empty in-memory trade history store.
func NewTradeHistoryStore() *TradeHistoryStore {
	return &TradeHistoryStore{}
}

// Append adds an outcome, discarding the oldest entry past the cap.
func (s *TradeHistoryStore) Append(_ context.Context, outcome *domain.TradeOutcome) error {
	if outcome == nil || outcome.Instrument == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *outcome
	s.entries = append(s.entries, &copy)
	if len(s.entries) > storage.HistoryCap {
		s.entries = s.entries[len(s.entries)-storage.HistoryCap:]
	}
	return nil
}

// GetRecent retrieves the most recent outcomes, newest first.
func (s *TradeHistoryStore) GetRecent(_ context.Context, limit int) ([]*domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	result := make([]*domain.TradeOutcome, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copy := *s.entries[i]
		result = append(result, &copy)
	}
	return result, nil
}

var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)
