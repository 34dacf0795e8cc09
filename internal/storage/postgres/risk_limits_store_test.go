package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"signal-trade-engine/internal/domain"
	"signal-trade-engine/internal/storage"
)

func TestRiskLimitsStore_LoadEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRiskLimitsStore(pool)
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.True(t, errors.Is(err, storage.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestRiskLimitsStore_SaveAndLoad(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRiskLimitsStore(pool)
	ctx := context.Background()

	limits := domain.DefaultRiskLimits()
	limits.MaxDailyLoss = 250
	limits.PartialClosePercents = []float64{20, 40, 60}

	require.NoError(t, store.Save(ctx, &limits))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 250.0, loaded.MaxDailyLoss)
	require.Equal(t, []float64{20, 40, 60}, loaded.PartialClosePercents)
	require.Equal(t, domain.SizingFixed, loaded.SizingMode)
	require.True(t, loaded.TrailingStopEnabled)
}

func TestRiskLimitsStore_SaveReplaces(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRiskLimitsStore(pool)
	ctx := context.Background()

	first := domain.DefaultRiskLimits()
	require.NoError(t, store.Save(ctx, &first))

	second := domain.DefaultRiskLimits()
	second.Leverage = 25
	second.EmergencyStopLoss = 40
	require.NoError(t, store.Save(ctx, &second))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 25.0, loaded.Leverage)
	require.Equal(t, 40.0, loaded.EmergencyStopLoss)
}

func TestRiskLimitsStore_SaveNil(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRiskLimitsStore(pool)

	err := store.Save(context.Background(), nil)
	require.True(t, errors.Is(err, storage.ErrInvalidInput), "expected ErrInvalidInput, got %v", err)
}
