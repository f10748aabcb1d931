package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/executor"
	"swap-engine/internal/idhash"
	"swap-engine/internal/ledger"
	"swap-engine/internal/quote"
	quotestub "swap-engine/internal/quote/stub"
	"swap-engine/internal/storage/memory"
	"swap-engine/internal/tradelog"
)

var (
	usdc = domain.Token{Symbol: "USDC", Chain: "base", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	weth = domain.Token{Symbol: "WETH", Chain: "base", Address: "0x4200000000000000000000000000000000000006", Decimals: 18}
)

type tokenTable []domain.Token

func (tt tokenTable) TokenBySymbol(chain, symbol string) (domain.Token, bool) {
	for _, t := range tt {
		if t.Chain == chain && t.Symbol == symbol {
			return t, true
		}
	}
	return domain.Token{}, false
}

func (tt tokenTable) QuoteToken(chain string) (domain.Token, bool) {
	return tt.TokenBySymbol(chain, "USDC")
}

type recordingExecutor struct {
	intents []*domain.SwapIntent
	fail    map[int]domain.ErrorKind
}

func (r *recordingExecutor) Execute(_ context.Context, in *domain.SwapIntent) *domain.SwapResult {
	idx := len(r.intents)
	r.intents = append(r.intents, in)
	if kind, ok := r.fail[idx]; ok {
		return domain.Failed(in, kind, errors.New(string(kind)))
	}
	return &domain.SwapResult{IntentID: in.ID, Success: true, Mode: in.Mode, Side: in.Side}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRun_BuildsIntentsInOrder(t *testing.T) {
	exec := &recordingExecutor{}
	o := New(Options{Executor: exec, Tokens: tokenTable{usdc, weth}, Chain: "base", SlippageBps: 75})

	res, err := o.Run(context.Background(), &Batch{
		ID:       "batch-1",
		WalletID: "w1",
		Decisions: []domain.Decision{
			{Token: "WETH", Action: domain.SideBuy, Amount: dec("250")},
			{Token: "WETH", Action: domain.SideSell, Amount: decimal.Zero},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 0 {
		t.Fatalf("succeeded=%d failed=%d, want 2/0", res.Succeeded, res.Failed)
	}
	if len(exec.intents) != 2 {
		t.Fatalf("executed %d intents, want 2", len(exec.intents))
	}

	buy := exec.intents[0]
	if !buy.TokenIn.Equal(usdc) || !buy.TokenOut.Equal(weth) {
		t.Errorf("buy tokens = %s -> %s", buy.TokenIn, buy.TokenOut)
	}
	if buy.AmountIn.String() != "250000000" {
		t.Errorf("buy amount = %s, want 250000000", buy.AmountIn)
	}
	if buy.Mode != domain.ModeSimulated {
		t.Errorf("mode = %s, want simulated", buy.Mode)
	}
	if buy.SlippageBps != 75 {
		t.Errorf("slippage = %d, want 75", buy.SlippageBps)
	}
	if want := idhash.ComputeDecisionIntentID("batch-1", "w1", 0, "WETH", "buy"); buy.ID != want {
		t.Errorf("intent id = %s, want %s", buy.ID, want)
	}

	sell := exec.intents[1]
	if !sell.TokenIn.Equal(weth) || sell.AmountIn.Sign() != 0 {
		t.Errorf("sell = %s amount %s, want whole WETH position", sell.TokenIn, sell.AmountIn)
	}
}

func TestRun_BadDecisionDoesNotStopBatch(t *testing.T) {
	exec := &recordingExecutor{fail: map[int]domain.ErrorKind{0: domain.ErrorKindQuoteFailed}}
	o := New(Options{Executor: exec, Tokens: tokenTable{usdc, weth}, Chain: "base"})

	res, err := o.Run(context.Background(), &Batch{
		WalletID: "w1",
		Decisions: []domain.Decision{
			{Token: "DOGE", Action: domain.SideBuy, Amount: dec("10")},
			{Token: "WETH", Action: "hold", Amount: dec("10")},
			{Token: "WETH", Action: domain.SideBuy, Amount: dec("-1")},
			{Token: "WETH", Action: domain.SideBuy, Amount: dec("10")},
			{Token: "WETH", Action: domain.SideBuy, Amount: dec("20")},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.BatchID == "" {
		t.Error("expected generated batch id")
	}
	if res.Failed != 4 || res.Succeeded != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 1/4", res.Succeeded, res.Failed)
	}
	if len(exec.intents) != 2 {
		t.Fatalf("executed %d intents, want 2 (invalid decisions never reach the executor)", len(exec.intents))
	}
	if res.Results[0].IntentID != "" || res.Results[0].Error == "" {
		t.Errorf("unknown token result = %+v", res.Results[0])
	}
	if res.Results[3].Result == nil || res.Results[3].Result.ErrorKind != domain.ErrorKindQuoteFailed {
		t.Errorf("executor failure not reported: %+v", res.Results[3])
	}
	if !res.Results[4].Success {
		t.Errorf("last decision should succeed: %+v", res.Results[4])
	}
}

func TestRun_BatchErrors(t *testing.T) {
	o := New(Options{Executor: &recordingExecutor{}, Tokens: tokenTable{weth}, Chain: "base"})
	ctx := context.Background()

	if _, err := o.Run(ctx, &Batch{}); !errors.Is(err, ErrMissingWallet) {
		t.Errorf("missing wallet: got %v", err)
	}
	if _, err := o.Run(ctx, &Batch{WalletID: "w1"}); !errors.Is(err, ErrNoQuoteToken) {
		t.Errorf("no quote token: got %v", err)
	}

	noChain := New(Options{Executor: &recordingExecutor{}, Tokens: tokenTable{usdc}})
	if _, err := noChain.Run(ctx, &Batch{WalletID: "w1"}); !errors.Is(err, ErrNoChain) {
		t.Errorf("no chain: got %v", err)
	}
}

func TestRun_CancelledContextSkipsRemaining(t *testing.T) {
	exec := &recordingExecutor{}
	o := New(Options{Executor: exec, Tokens: tokenTable{usdc, weth}, Chain: "base"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := o.Run(ctx, &Batch{WalletID: "w1", Decisions: []domain.Decision{
		{Token: "WETH", Action: domain.SideBuy, Amount: dec("1")},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(exec.intents) != 0 || res.Failed != 1 {
		t.Errorf("executed=%d failed=%d, want 0/1", len(exec.intents), res.Failed)
	}
}

// A replayed batch id yields the same intent ids, so nothing executes twice.
func TestRun_ReplayedBatchIsDuplicate(t *testing.T) {
	backend := quotestub.NewFixedPrice("stub", "WETH", decimal.NewFromInt(50))
	paper := ledger.New(ledger.Options{
		Book:           domain.BookPaper,
		Accounts:       memory.NewAccountStore(),
		ClosedPosition: memory.NewClosedPositionStore(),
	})
	exec := executor.New(executor.Options{
		Quotes: quote.NewProvider(quote.Options{Backends: map[string][]quote.Backend{"base": {backend}}}),
		Trades: tradelog.New(tradelog.Options{Store: memory.NewTradeRecordStore()}),
		Paper:  paper,
		Live:   ledger.New(ledger.Options{Book: domain.BookLive, Accounts: memory.NewAccountStore(), ClosedPosition: memory.NewClosedPositionStore()}),
	})
	o := New(Options{
		Executor: exec,
		Tokens:   tokenTable{usdc, weth},
		Chain:    "base",
		Clock:    func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	ctx := context.Background()
	if err := paper.Deposit(ctx, "w1", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	batch := &Batch{ID: "replay", WalletID: "w1", Decisions: []domain.Decision{
		{Token: "WETH", Action: domain.SideBuy, Amount: dec("100")},
	}}
	first, err := o.Run(ctx, batch)
	if err != nil || first.Succeeded != 1 {
		t.Fatalf("first run: %+v, %v", first, err)
	}
	second, err := o.Run(ctx, batch)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := second.Results[0].Result.ErrorKind; got != domain.ErrorKindDuplicate {
		t.Errorf("replay error kind = %s, want duplicate", got)
	}

	cash, err := paper.Cash(ctx, "w1")
	if err != nil {
		t.Fatalf("Cash: %v", err)
	}
	if !cash.Equal(decimal.NewFromInt(900)) {
		t.Errorf("cash = %s, want 900 (spent once)", cash)
	}
}
