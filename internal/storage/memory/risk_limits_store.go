package memory

import (
	"context"
	"sync"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// RiskLimitsStore is an in-memory implementation of storage.RiskLimitsStore.
type RiskLimitsStore struct {
	mu     sync.RWMutex
	limits *domain.RiskLimits
}

// NewRiskLimitsStore creates an empty in-memory risk limits store.
func NewRiskLimitsStore() *RiskLimitsStore {
	return &RiskLimitsStore{}
}

// Load retrieves the saved limits. Returns ErrNotFound when empty.
func (s *RiskLimitsStore) Load(_ context.Context) (*domain.RiskLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.limits == nil {
		return nil, storage.ErrNotFound
	}

	out := s.limits.Clone()
	return &out, nil
}

// Save atomically replaces the saved limits.
func (s *RiskLimitsStore) Save(_ context.Context, limits *domain.RiskLimits) error {
	if limits == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := limits.Clone()
	s.limits = &copy
	return nil
}

var _ storage.RiskLimitsStore = (*RiskLimitsStore)(nil)
