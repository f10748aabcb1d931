package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
	"swap-engine/internal/executor"
	"swap-engine/internal/idhash"
	"swap-engine/internal/ledger"
	"swap-engine/internal/pricefeed"
	"swap-engine/internal/quote"
	quotestub "swap-engine/internal/quote/stub"
	"swap-engine/internal/storage/memory"
	"swap-engine/internal/tradelog"
)

type quoteTable map[string]domain.Token

func (q quoteTable) QuoteToken(chain string) (domain.Token, bool) {
	t, ok := q[chain]
	return t, ok
}

type protectionFixture struct {
	paper   *ledger.Ledger
	feed    *pricefeed.Static
	backend *quotestub.Backend
	engine  *Engine
}

// newProtectionFixture opens a 10 TKN paper position at 100 for w1.
func newProtectionFixture(t *testing.T, exec Executor) *protectionFixture {
	t.Helper()
	ctx := context.Background()
	clk := &clock{now: t0}

	f := &protectionFixture{
		paper: ledger.New(ledger.Options{
			Book:           domain.BookPaper,
			Accounts:       memory.NewAccountStore(),
			ClosedPosition: memory.NewClosedPositionStore(),
			Clock:          clk.Now,
		}),
		feed:    pricefeed.NewStatic(map[string]decimal.Decimal{"TKN": dec("100")}),
		backend: quotestub.NewFixedPrice("stub", "TKN", dec("100")),
	}
	require.NoError(t, f.paper.Deposit(ctx, "w1", dec("10000")))
	_, err := f.paper.ApplyBuy(ctx, "w1", tkn, dec("1000"), dec("10"), dec("100"))
	require.NoError(t, err)

	if exec == nil {
		exec = executor.New(executor.Options{
			Quotes: quote.NewProvider(quote.Options{Backends: map[string][]quote.Backend{"base": {f.backend}}}),
			Trades: tradelog.New(tradelog.Options{Store: memory.NewTradeRecordStore()}),
			Paper:  f.paper,
		})
	}
	f.engine = New(Options{
		Store:     memory.NewStrategyStore(),
		Executor:  exec,
		Prices:    f.feed,
		Clock:     clk.Now,
		Protected: []ProtectedBook{f.paper},
		Quotes:    quoteTable{"base": usdc},
	})
	return f
}

func (f *protectionFixture) setPrice(p string) {
	f.feed.SetPrice("TKN", dec(p))
	f.backend.SetPrice("TKN", dec(p))
}

func stopAt(p string) *decimal.Decimal {
	v := dec(p)
	return &v
}

func TestEngine_ProtectionStopLoss(t *testing.T) {
	ctx := context.Background()
	f := newProtectionFixture(t, nil)
	require.NoError(t, f.paper.SetProtection(ctx, "w1", tkn, stopAt("90"), []decimal.Decimal{dec("150")}))

	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 1)
	assert.Equal(t, OutcomeIdle, report.Evaluations[0].Outcome)

	f.setPrice("85")
	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 1)
	ev := report.Evaluations[0]
	assert.Equal(t, OutcomeFired, ev.Outcome)
	assert.Equal(t, KindProtection, ev.Kind)
	assert.Equal(t, domain.BookPaper, ev.Book)
	assert.Equal(t, "TKN", ev.Token)
	assert.Contains(t, ev.Reason, "stop loss")
	require.NotNil(t, ev.Result)
	assert.True(t, ev.Result.Success, ev.Result.Error)
	assert.Equal(t, 1, report.Succeeded)

	cash, err := f.paper.Cash(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "9850", cash.String())

	_, err = f.paper.Position(ctx, "w1", tkn)
	assert.ErrorIs(t, err, ledger.ErrNoPosition)

	closed, err := f.paper.ClosedPositions(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "-150", closed[0].RealizedPnL.String())

	// closed positions are no longer watched
	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Evaluations)
}

func TestEngine_ProtectionTakeProfit(t *testing.T) {
	ctx := context.Background()
	f := newProtectionFixture(t, nil)
	require.NoError(t, f.paper.SetProtection(ctx, "w1", tkn, nil, []decimal.Decimal{dec("150"), dec("130")}))

	f.setPrice("129")
	report, err := f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 1)
	assert.Equal(t, OutcomeIdle, report.Evaluations[0].Outcome)

	f.setPrice("130")
	report, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 1)
	ev := report.Evaluations[0]
	assert.Equal(t, OutcomeFired, ev.Outcome)
	assert.Contains(t, ev.Reason, "take profit")
	require.True(t, ev.Result.Success, ev.Result.Error)

	cash, err := f.paper.Cash(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "10300", cash.String())
}

func TestEngine_ProtectionIntentIsDeterministic(t *testing.T) {
	ctx := context.Background()
	rec := &recordingExecutor{fn: func(in *domain.SwapIntent) *domain.SwapResult {
		return &domain.SwapResult{IntentID: in.ID, ErrorKind: domain.ErrorKindQuoteFailed}
	}}
	f := newProtectionFixture(t, rec)
	require.NoError(t, f.paper.SetProtection(ctx, "w1", tkn, stopAt("90"), nil))
	pos, err := f.paper.Position(ctx, "w1", tkn)
	require.NoError(t, err)

	f.setPrice("80")
	_, err = f.engine.Tick(ctx)
	require.NoError(t, err)

	intents := rec.Intents()
	require.Len(t, intents, 1)
	in := intents[0]
	assert.Equal(t, idhash.ComputeIntentID("protect:paper:"+tkn.Key(), "w1", pos.UpdatedAt.UnixMicro()), in.ID)
	assert.Equal(t, domain.SideSell, in.Side)
	assert.Equal(t, tkn, in.TokenIn)
	assert.Equal(t, usdc, in.TokenOut)
	assert.Zero(t, in.AmountIn.Sign(), "protective sells close the whole position")
	assert.Equal(t, domain.ModeSimulated, in.Mode)

	// a failed sell re-arms the levels, so the next tick uses a new id
	rearmed, err := f.paper.Position(ctx, "w1", tkn)
	require.NoError(t, err)
	assert.True(t, rearmed.UpdatedAt.After(pos.UpdatedAt))
	assert.Equal(t, "90", rearmed.StopLossPrice.String())

	_, err = f.engine.Tick(ctx)
	require.NoError(t, err)
	intents = rec.Intents()
	require.Len(t, intents, 2)
	assert.NotEqual(t, intents[0].ID, intents[1].ID)
}

func TestEngine_ProtectionDeferredWhenWalletBusy(t *testing.T) {
	ctx := context.Background()
	rec := &recordingExecutor{fn: func(in *domain.SwapIntent) *domain.SwapResult {
		return &domain.SwapResult{IntentID: in.ID, ErrorKind: domain.ErrorKindWalletBusy}
	}}
	f := newProtectionFixture(t, rec)
	require.NoError(t, f.paper.SetProtection(ctx, "w1", tkn, stopAt("90"), nil))

	f.setPrice("80")
	for i := 0; i < 2; i++ {
		report, err := f.engine.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, report.Evaluations, 1)
		assert.Equal(t, OutcomeDeferred, report.Evaluations[0].Outcome)
	}

	// nothing was attempted, so the retry reuses the id
	intents := rec.Intents()
	require.Len(t, intents, 2)
	assert.Equal(t, intents[0].ID, intents[1].ID)
}

func TestEngine_WalletBusyDefersStrategy(t *testing.T) {
	ctx := context.Background()
	busy := true
	rec := &recordingExecutor{fn: func(in *domain.SwapIntent) *domain.SwapResult {
		if busy {
			return &domain.SwapResult{IntentID: in.ID, ErrorKind: domain.ErrorKindWalletBusy}
		}
		return &domain.SwapResult{IntentID: in.ID, Success: true, AmountOut: in.TokenOut.ToUnits(dec("1"))}
	}}
	store := memory.NewStrategyStore()
	engine := New(Options{Store: store, Executor: rec, Clock: func() time.Time { return t0 }})

	s, err := engine.Create(ctx, newStrategy(dcaParams("10", time.Hour)))
	require.NoError(t, err)

	report, err := engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, report.Evaluations, 1)
	assert.Equal(t, OutcomeDeferred, report.Evaluations[0].Outcome)
	assert.Zero(t, report.Fired)

	got, err := store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Params.(*domain.DCAParams).Executions, "a busy wallet does not consume the slot")

	busy = false
	report, err = engine.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	intents := rec.Intents()
	require.Len(t, intents, 2)
	assert.Equal(t, intents[0].ID, intents[1].ID)
}
