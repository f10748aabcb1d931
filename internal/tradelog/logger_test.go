package tradelog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
	"swap-engine/internal/storage/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func newTrade(intent string) *domain.TradeRecord {
	return &domain.TradeRecord{
		IntentID:       intent,
		WalletID:       "w1",
		TradeType:      domain.SideBuy,
		TokenInSymbol:  "USDC",
		TokenOutSymbol: "WETH",
		AmountIn:       decimal.NewFromInt(100),
		Notional:       decimal.NewFromInt(100),
		Network:        "base",
		Status:         domain.TradeStatusSuccess, // overridden by Append
		DryRun:         true,
	}
}

func TestAppend_ForcesPending(t *testing.T) {
	pub := &recordingPublisher{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(Options{Store: memory.NewTradeRecordStore(), Publisher: pub, Clock: func() time.Time { return now }})
	ctx := context.Background()

	id, err := l.Append(ctx, newTrade("i1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusPending, rec.Status)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Nil(t, rec.ExecutedAt)
	assert.Equal(t, []string{SubjectPending}, pub.subjects)
}

func TestAppend_Duplicate(t *testing.T) {
	l := New(Options{Store: memory.NewTradeRecordStore()})
	ctx := context.Background()

	_, err := l.Append(ctx, newTrade("i1"))
	require.NoError(t, err)

	_, err = l.Append(ctx, newTrade("i1"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	pub := &recordingPublisher{}
	l := New(Options{Store: memory.NewTradeRecordStore(), Publisher: pub})
	ctx := context.Background()

	id, err := l.Append(ctx, newTrade("i1"))
	require.NoError(t, err)

	// pending is not a valid target
	err = l.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusPending})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	out := decimal.RequireFromString("0.05")
	err = l.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusSuccess, AmountOut: &out, TxHash: "0xabc"})
	require.NoError(t, err)

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusSuccess, rec.Status)
	assert.Equal(t, "0.05", rec.AmountOut.String())
	assert.Equal(t, "0xabc", rec.TxHash)
	require.NotNil(t, rec.ExecutedAt)

	// terminal exactly once
	err = l.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusFailed, Error: "late"})
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	err = l.UpdateStatus(ctx, 999, &domain.TradeUpdate{Status: domain.TradeStatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []string{SubjectPending, SubjectSuccess}, pub.subjects)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("bus down")}
	l := New(Options{Store: memory.NewTradeRecordStore(), Publisher: pub})
	ctx := context.Background()

	id, err := l.Append(ctx, newTrade("i1"))
	require.NoError(t, err)
	require.NoError(t, l.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: domain.TradeStatusFailed, Error: "reverted"}))

	rec, err := l.GetByIntent(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFailed, rec.Status)
	assert.Equal(t, "reverted", rec.Error)
}

func TestQueryAndStats(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	l := New(Options{Store: memory.NewTradeRecordStore(), Clock: clock})
	ctx := context.Background()

	for i, status := range []domain.TradeStatus{domain.TradeStatusSuccess, domain.TradeStatusSuccess, domain.TradeStatusFailed, domain.TradeStatusPending} {
		rec := newTrade(string(rune('a' + i)))
		rec.Notional = decimal.NewFromInt(int64(100 * (i + 1)))
		rec.DryRun = i%2 == 0
		id, err := l.Append(ctx, rec)
		require.NoError(t, err)
		if status.Terminal() {
			require.NoError(t, l.UpdateStatus(ctx, id, &domain.TradeUpdate{Status: status}))
		}
	}

	trades, err := l.Query(ctx, domain.TradeFilter{WalletID: "w1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "d", trades[0].IntentID)
	assert.Equal(t, "c", trades[1].IntentID)

	stats, err := l.Stats(ctx, domain.TradeFilter{WalletID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 2, stats.DryRunCount)
	assert.Equal(t, 2, stats.LiveCount)
	assert.Equal(t, 50.0, stats.SuccessRate)
	assert.Equal(t, "300", stats.TotalVolume.String())
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, SubjectPending, SubjectFor(domain.TradeStatusPending))
	assert.Equal(t, SubjectSuccess, SubjectFor(domain.TradeStatusSuccess))
	assert.Equal(t, SubjectFailed, SubjectFor(domain.TradeStatusFailed))
}
