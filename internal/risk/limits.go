// Package risk implements the trading permission gate and position
// sizing policies.
package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

// Limits is the process-wide holder of the hot-reloadable risk
// configuration. Readers always get a consistent snapshot; updates
// replace the whole set atomically and persist it.
type Limits struct {
	mu      sync.RWMutex
	current domain.RiskLimits
	store   storage.RiskLimitsStore
}

// NewLimits creates a holder seeded with defaults. Call Load to restore
// the persisted configuration.
func NewLimits(store storage.RiskLimitsStore) *Limits {
	return &Limits{
		current: domain.DefaultRiskLimits(),
		store:   store,
	}
}

// Load restores saved limits. A missing record keeps the defaults.
func (h *Limits) Load(ctx context.Context) error {
	saved, err := h.store.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load risk limits: %w", err)
	}

	h.mu.Lock()
	h.current = saved.Clone()
	h.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current limits.
func (h *Limits) Snapshot() domain.RiskLimits {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Clone()
}

// Update atomically replaces the limits and persists them.
func (h *Limits) Update(ctx context.Context, limits domain.RiskLimits) error {
	h.mu.Lock()
	h.current = limits.Clone()
	h.mu.Unlock()

	if err := h.store.Save(ctx, &limits); err != nil {
		return fmt.Errorf("save risk limits: %w", err)
	}
	return nil
}
