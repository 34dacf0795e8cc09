package memory

import (
	"context"
	"sync"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// StatisticsStore is an in-memory implementation of storage.StatisticsStore.
type StatisticsStore struct {
	mu    sync.RWMutex
	stats *domain.Statistics
}

// NewStatisticsStore creates an empty in-memory statistics store.
func NewStatisticsStore() *StatisticsStore {
	return &StatisticsStore{}
}

// Load retrieves the saved ledger state. Returns ErrNotFound when empty.
func (s *StatisticsStore) Load(_ context.Context) (*domain.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stats == nil {
		return nil, storage.ErrNotFound
	}

	copy := *s.stats
	return &copy, nil
}

// Save atomically replaces the saved ledger state.
func (s *StatisticsStore) Save(_ context.Context, stats *domain.Statistics) error {
	if stats == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *stats
	s.stats = &copy
	return nil
}

var _ storage.StatisticsStore = (*StatisticsStore)(nil)
