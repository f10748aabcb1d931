package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

func openTestStore(t *testing.T) *TradeRecordStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pendingTrade(intentID, wallet string, dryRun bool, at time.Time) *domain.TradeRecord {
	return &domain.TradeRecord{
		IntentID:        intentID,
		WalletID:        wallet,
		TradeType:       domain.SideSell,
		TokenInSymbol:   "WETH",
		TokenInAddress:  "0x4200000000000000000000000000000000000006",
		TokenOutSymbol:  "USDC",
		TokenOutAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		AmountIn:        decimal.RequireFromString("0.123456789012345678"),
		Network:         "base",
		Status:          domain.TradeStatusPending,
		DryRun:          dryRun,
		CreatedAt:       at,
	}
}

func TestStore_InsertUpdateGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 123, time.UTC)

	id, err := s.Insert(ctx, pendingTrade("i-1", "w1", false, now))
	require.NoError(t, err)

	_, err = s.Insert(ctx, pendingTrade("i-1", "w1", false, now))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	price := decimal.RequireFromString("2400.5")
	require.NoError(t, s.UpdateStatus(ctx, id, &domain.TradeUpdate{
		Status:     domain.TradeStatusSuccess,
		TxHash:     "0xabc",
		Price:      &price,
		GasUsed:    150000,
		ExecutedAt: now.Add(time.Second),
	}))

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "i-1", got.IntentID)
	assert.Equal(t, domain.TradeStatusSuccess, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Equal(t, uint64(150000), got.GasUsed)
	assert.True(t, got.Price.Equal(price))
	assert.Equal(t, "0.123456789012345678", got.AmountIn.String(), "full precision kept")
	assert.Equal(t, now, got.CreatedAt)
	require.NotNil(t, got.ExecutedAt)
	assert.False(t, got.DryRun)

	err = s.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusFailed, ExecutedAt: now})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	err = s.UpdateStatus(ctx, 42, &domain.TradeUpdate{Status: domain.TradeStatusFailed, ExecutedAt: now})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusPending})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = s.GetByIntentID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_QueryAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, w := range []string{"w1", "w1", "w2"} {
		id, err := s.Insert(ctx, pendingTrade(string(rune('a'+i)), w, i != 2, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		if i == 1 {
			continue
		}
		notional := decimal.NewFromInt(100)
		require.NoError(t, s.UpdateStatus(ctx, id, &domain.TradeUpdate{
			Status:     domain.TradeStatusSuccess,
			Notional:   &notional,
			ExecutedAt: base,
		}))
	}

	all, err := s.Query(ctx, domain.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].IntentID)

	w1, err := s.Query(ctx, domain.TradeFilter{WalletID: "w1", Status: domain.TradeStatusPending})
	require.NoError(t, err)
	require.Len(t, w1, 1)
	assert.Equal(t, "b", w1[0].IntentID)

	dry := true
	stats, err := s.Stats(ctx, domain.TradeFilter{DryRun: &dry})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Pending)
	assert.True(t, stats.TotalVolume.Equal(decimal.NewFromInt(100)))
}
