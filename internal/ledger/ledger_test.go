package ledger

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
	"swap-engine/internal/storage/memory"
)

var weth = domain.Token{Symbol: "WETH", Chain: "base", Address: "0x4200000000000000000000000000000000000006", Decimals: 18}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

func newTestLedger(t *testing.T, cash string) (*Ledger, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Options{
		Book:           domain.BookPaper,
		Accounts:       memory.NewAccountStore(),
		ClosedPosition: memory.NewClosedPositionStore(),
		Clock:          clock.Now,
	})
	if cash != "" {
		require.NoError(t, l.Deposit(context.Background(), "w1", d(cash)))
	}
	return l, clock
}

type staticMarks map[string]decimal.Decimal

func (m staticMarks) CurrentPrice(_ context.Context, tok domain.Token) (decimal.Decimal, error) {
	p, ok := m[tok.Key()]
	if !ok {
		return decimal.Zero, errors.New("no price")
	}
	return p, nil
}

func TestApplyBuy_WeightedAverage(t *testing.T) {
	l, _ := newTestLedger(t, "100000")
	ctx := context.Background()

	buys := []struct{ qty, price string }{{"2", "100"}, {"3", "110"}, {"5", "90"}}
	sumQty, sumCost := decimal.Zero, decimal.Zero
	var pos *domain.Position
	for _, b := range buys {
		qty, price := d(b.qty), d(b.price)
		var err error
		pos, err = l.ApplyBuy(ctx, "w1", weth, qty.Mul(price), qty, price)
		require.NoError(t, err)
		sumQty = sumQty.Add(qty)
		sumCost = sumCost.Add(qty.Mul(price))
	}

	want := sumCost.Div(sumQty)
	assert.True(t, pos.AvgEntryPrice.Sub(want).Abs().LessThan(d("0.000000001")), "avg %s want %s", pos.AvgEntryPrice, want)
	assert.True(t, pos.Quantity.Equal(d("10")))
	assert.Equal(t, 3, pos.Entries)
	assert.True(t, pos.CostBasis.Equal(sumCost))

	cash, err := l.Cash(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, cash.Equal(d("100000").Sub(sumCost)), "cash %s", cash)
}

func TestApplyBuy_InsufficientCashDoesNotMutate(t *testing.T) {
	l, _ := newTestLedger(t, "100")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("150"), d("1.5"), d("100"))
	require.True(t, errors.Is(err, ErrInsufficientCash), "got %v", err)

	cash, _ := l.Cash(ctx, "w1")
	assert.True(t, cash.Equal(d("100")))
	_, err = l.Position(ctx, "w1", weth)
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestApplyBuy_InvalidAmounts(t *testing.T) {
	l, _ := newTestLedger(t, "100")
	_, err := l.ApplyBuy(context.Background(), "w1", weth, d("0"), d("1"), d("1"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	_, err = l.ApplyBuy(context.Background(), "w1", weth, d("10"), d("1"), d("-1"))
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestApplySell_RealizedPnL(t *testing.T) {
	l, clock := newTestLedger(t, "100")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("100"), d("2"), d("50"))
	require.NoError(t, err)
	before, _ := l.Cash(ctx, "w1")

	clock.Advance(36 * time.Hour)
	closed, err := l.ApplySell(ctx, "w1", weth, d("60"), "0xexit")
	require.NoError(t, err)

	assert.True(t, closed.RealizedPnL.Equal(d("20")), "pnl %s", closed.RealizedPnL)
	assert.True(t, closed.RealizedPnLPct.Equal(d("20")), "pct %s", closed.RealizedPnLPct)
	assert.True(t, closed.Proceeds.Equal(d("120")))
	assert.Equal(t, 36*time.Hour, closed.HoldDuration)
	assert.Equal(t, "0xexit", closed.ExitTxHash)
	assert.NotZero(t, closed.ID)

	after, _ := l.Cash(ctx, "w1")
	assert.True(t, after.Sub(before).Equal(d("120")))

	_, err = l.Position(ctx, "w1", weth)
	assert.True(t, errors.Is(err, ErrNoPosition))

	history, err := l.ClosedPositions(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestApplySell_TwiceFails(t *testing.T) {
	l, _ := newTestLedger(t, "100")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("100"), d("2"), d("50"))
	require.NoError(t, err)
	_, err = l.ApplySell(ctx, "w1", weth, d("60"), "")
	require.NoError(t, err)

	cash, _ := l.Cash(ctx, "w1")
	_, err = l.ApplySell(ctx, "w1", weth, d("60"), "")
	assert.True(t, errors.Is(err, ErrNoPosition), "got %v", err)

	again, _ := l.Cash(ctx, "w1")
	assert.True(t, cash.Equal(again), "second sell must not credit cash")
}

func TestDCAScenario(t *testing.T) {
	l, clock := newTestLedger(t, "10000")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.ApplyBuy(ctx, "w1", weth, d("500"), d("5"), d("100"))
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
	}

	cash, _ := l.Cash(ctx, "w1")
	assert.True(t, cash.Equal(d("8500")), "cash %s", cash)

	pos, err := l.Position(ctx, "w1", weth)
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("15")))
	assert.True(t, pos.AvgEntryPrice.Equal(d("100")))
}

func TestPortfolioValue_Reconciles(t *testing.T) {
	l, _ := newTestLedger(t, "1000")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("300"), d("3"), d("100"))
	require.NoError(t, err)

	v, err := l.PortfolioValue(ctx, "w1", staticMarks{weth.Key(): d("120")})
	require.NoError(t, err)
	assert.True(t, v.Cash.Equal(d("700")))
	assert.True(t, v.PositionValue.Equal(d("360")))
	assert.True(t, v.Total.Equal(d("1060")))

	_, err = l.PortfolioValue(ctx, "w1", staticMarks{})
	assert.Error(t, err)
}

func TestSetProtection(t *testing.T) {
	l, _ := newTestLedger(t, "1000")
	ctx := context.Background()

	stop := d("90")
	assert.True(t, errors.Is(l.SetProtection(ctx, "w1", weth, &stop, nil), ErrNoPosition))

	_, err := l.ApplyBuy(ctx, "w1", weth, d("100"), d("1"), d("100"))
	require.NoError(t, err)
	require.NoError(t, l.SetProtection(ctx, "w1", weth, &stop, []decimal.Decimal{d("120"), d("150")}))

	pos, _ := l.Position(ctx, "w1", weth)
	require.NotNil(t, pos.StopLossPrice)
	assert.True(t, pos.StopLossPrice.Equal(stop))
	assert.Len(t, pos.TakeProfitPrices, 2)
}

func TestSetProtection_AdvancesUpdatedAt(t *testing.T) {
	l, _ := newTestLedger(t, "1000")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("100"), d("1"), d("100"))
	require.NoError(t, err)
	first, _ := l.Position(ctx, "w1", weth)

	// the clock is frozen, the timestamp still moves
	stop := d("90")
	require.NoError(t, l.SetProtection(ctx, "w1", weth, &stop, nil))
	second, _ := l.Position(ctx, "w1", weth)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestProtectedPositions(t *testing.T) {
	l, _ := newTestLedger(t, "1000")
	ctx := context.Background()
	tkn := domain.Token{Symbol: "TKN", Chain: "base", Address: "0x42", Decimals: 18}

	require.NoError(t, l.Deposit(ctx, "w2", d("1000")))
	for _, w := range []string{"w2", "w1"} {
		_, err := l.ApplyBuy(ctx, w, weth, d("100"), d("1"), d("100"))
		require.NoError(t, err)
		_, err = l.ApplyBuy(ctx, w, tkn, d("100"), d("10"), d("10"))
		require.NoError(t, err)
	}

	none, err := l.ProtectedPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	stop := d("90")
	require.NoError(t, l.SetProtection(ctx, "w2", weth, &stop, nil))
	require.NoError(t, l.SetProtection(ctx, "w1", tkn, nil, []decimal.Decimal{d("20")}))

	got, err := l.ProtectedPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "w1", got[0].WalletID)
	assert.Equal(t, tkn, got[0].Token)
	assert.Equal(t, "w2", got[1].WalletID)
	assert.Equal(t, weth, got[1].Token)
}

func TestApplySellFill_Shortfall(t *testing.T) {
	l, _ := newTestLedger(t, "5000")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("1000"), d("0.5"), d("2000"))
	require.NoError(t, err)

	closed, err := l.ApplySellFill(ctx, "w1", weth, d("0.25"), d("500"), "0xexit")
	require.NoError(t, err)
	assert.Equal(t, "0.25", closed.Quantity.String())
	assert.Equal(t, "0.25", closed.Shortfall.String())
	assert.Equal(t, "500", closed.Proceeds.String())
	assert.Equal(t, "2000", closed.ExitPrice.String())
	assert.Equal(t, "1000", closed.CostBasis.String())
	assert.Equal(t, "-500", closed.RealizedPnL.String())
	assert.Equal(t, "-50", closed.RealizedPnLPct.String())

	cash, _ := l.Cash(ctx, "w1")
	assert.Equal(t, "4500", cash.String())
	_, err = l.Position(ctx, "w1", weth)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestApplySellFill_Rejects(t *testing.T) {
	l, _ := newTestLedger(t, "5000")
	ctx := context.Background()

	_, err := l.ApplyBuy(ctx, "w1", weth, d("1000"), d("0.5"), d("2000"))
	require.NoError(t, err)

	_, err = l.ApplySellFill(ctx, "w1", weth, d("0.6"), d("1200"), "")
	assert.ErrorIs(t, err, ErrOversold)
	_, err = l.ApplySellFill(ctx, "w1", weth, d("0"), d("100"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	cash, _ := l.Cash(ctx, "w1")
	assert.Equal(t, "4000", cash.String(), "rejected fills leave the books alone")
}

func TestEnsureCash_OnlySeedsOnce(t *testing.T) {
	l, _ := newTestLedger(t, "")
	ctx := context.Background()

	created, err := l.EnsureCash(ctx, "w2", d("500"))
	require.NoError(t, err)
	assert.True(t, created)

	_, err = l.ApplyBuy(ctx, "w2", weth, d("100"), d("1"), d("100"))
	require.NoError(t, err)

	created, err = l.EnsureCash(ctx, "w2", d("500"))
	require.NoError(t, err)
	assert.False(t, created)

	cash, _ := l.Cash(ctx, "w2")
	assert.True(t, cash.Equal(d("400")))
}

func TestConcurrentBuysNeverOverspend(t *testing.T) {
	l, _ := newTestLedger(t, "1000")
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.ApplyBuy(ctx, "w1", weth, d("100"), d("1"), d("100")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	cash, _ := l.Cash(ctx, "w1")
	assert.True(t, cash.IsZero(), "cash %s", cash)
}
