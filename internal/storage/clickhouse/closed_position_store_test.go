package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
)

func closedPosition(id int64, wallet, exit string, closedAt time.Time) *domain.ClosedPosition {
	exitPrice := decimal.RequireFromString(exit)
	entry := decimal.NewFromInt(50)
	qty := decimal.NewFromInt(2)
	return &domain.ClosedPosition{
		ID:       id,
		Book:     domain.BookPaper,
		WalletID: wallet,
		Token: domain.Token{
			Symbol:   "WETH",
			Chain:    "base",
			Address:  "0x4200000000000000000000000000000000000006",
			Decimals: 18,
		},
		Quantity:       qty,
		EntryPrice:     entry,
		ExitPrice:      exitPrice,
		CostBasis:      entry.Mul(qty),
		Proceeds:       exitPrice.Mul(qty),
		RealizedPnL:    exitPrice.Sub(entry).Mul(qty),
		RealizedPnLPct: exitPrice.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)),
		OpenedAt:       closedAt.Add(-time.Hour),
		ClosedAt:       closedAt,
		HoldDuration:   time.Hour,
		ExitTxHash:     "0xfeed",
	}
}

func TestClosedPositionStore_InsertAndGetByWallet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewClosedPositionStore(conn)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Insert(ctx, closedPosition(2, "w1", "40", base.Add(time.Hour)))
	require.NoError(t, err)
	_, err = store.Insert(ctx, closedPosition(1, "w1", "60", base))
	require.NoError(t, err)
	_, err = store.Insert(ctx, closedPosition(3, "w2", "55", base))
	require.NoError(t, err)

	got, err := store.GetByWallet(ctx, domain.BookPaper, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "WETH", first.Token.Symbol)
	assert.Equal(t, int32(18), first.Token.Decimals)
	assert.True(t, first.RealizedPnL.Equal(decimal.NewFromInt(20)), "pnl %s", first.RealizedPnL)
	assert.True(t, first.RealizedPnLPct.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, time.Hour, first.HoldDuration)
	assert.Equal(t, base, first.ClosedAt)
}

func TestClosedPositionStore_Summary(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewClosedPositionStore(conn)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, exit := range []string{"60", "40", "70"} {
		_, err := store.Insert(ctx, closedPosition(int64(i+1), "w1", exit, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	// Re-mirroring the same id collapses under FINAL.
	_, err := store.Insert(ctx, closedPosition(1, "w1", "60", base))
	require.NoError(t, err)

	summary, err := store.Summary(ctx, domain.BookPaper)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, uint64(3), summary[0].Closed)
	assert.Equal(t, uint64(2), summary[0].Wins)
	assert.True(t, summary[0].RealizedPnL.Equal(decimal.NewFromInt(40)), "pnl %s", summary[0].RealizedPnL)
	assert.InDelta(t, 66.666, summary[0].WinRate(), 0.01)
}
