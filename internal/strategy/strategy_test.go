package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/pricefeed"
)

var (
	usdc = domain.Token{Symbol: "USDC", Chain: "base", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	tkn  = domain.Token{Symbol: "TKN", Chain: "base", Address: "0x4200000000000000000000000000000000000042", Decimals: 18}
	t0   = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStrategy(params domain.StrategyParams) *domain.Strategy {
	in, out := usdc, tkn
	if p, ok := params.(*domain.StopLossParams); ok && p != nil {
		in, out = tkn, usdc
	}
	if p, ok := params.(*domain.LimitOrderParams); ok && p.Side == domain.SideSell {
		in, out = tkn, usdc
	}
	return &domain.Strategy{
		ID:          "s1",
		WalletID:    "w1",
		Chain:       "base",
		TokenIn:     in,
		TokenOut:    out,
		SlippageBps: 100,
		Active:      true,
		Status:      domain.StatusActive,
		Params:      params,
	}
}

func dcaParams(amount string, interval time.Duration) *domain.DCAParams {
	return &domain.DCAParams{AmountPerBuy: dec(amount), Interval: interval}
}

func success(units *big.Int) *domain.SwapResult {
	return &domain.SwapResult{Success: true, AmountOut: units}
}

func failure(kind domain.ErrorKind) *domain.SwapResult {
	return &domain.SwapResult{ErrorKind: kind, Error: string(kind)}
}

func mustFromConfig(t *testing.T, s *domain.Strategy) Strategy {
	t.Helper()
	strat, err := FromConfig(s)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	return strat
}

func TestFromConfig_Kinds(t *testing.T) {
	tests := []struct {
		params domain.StrategyParams
		want   string
	}{
		{dcaParams("500", 24*time.Hour), "*strategy.DCA"},
		{&domain.LimitOrderParams{Side: domain.SideBuy, TargetPrice: dec("90"), Amount: dec("100")}, "*strategy.LimitOrder"},
		{&domain.StopLossParams{ReferencePrice: dec("100"), TriggerPct: dec("10")}, "*strategy.StopLoss"},
	}
	for _, tt := range tests {
		s := mustFromConfig(t, newStrategy(tt.params))
		switch s.(type) {
		case *DCA, *LimitOrder, *StopLoss:
		default:
			t.Errorf("unexpected type %T, want %s", s, tt.want)
		}
	}
}

func TestFromConfig_Errors(t *testing.T) {
	zero := 0
	smallBudget := dec("100")
	tests := []struct {
		name   string
		mutate func(s *domain.Strategy)
		want   error
	}{
		{"nil params", func(s *domain.Strategy) { s.Params = nil }, ErrMissingParams},
		{"no wallet", func(s *domain.Strategy) { s.WalletID = "" }, ErrMissingWallet},
		{"same tokens", func(s *domain.Strategy) { s.TokenOut = s.TokenIn }, ErrInvalidPair},
		{"wrong chain", func(s *domain.Strategy) { s.Chain = "polygon" }, ErrInvalidPair},
		{"slippage", func(s *domain.Strategy) { s.SlippageBps = 10000 }, ErrInvalidSlippage},
		{"dca amount", func(s *domain.Strategy) { s.Params = dcaParams("0", time.Hour) }, ErrInvalidAmountPerBuy},
		{"dca interval", func(s *domain.Strategy) { s.Params = dcaParams("1", 0) }, ErrInvalidInterval},
		{"dca budget", func(s *domain.Strategy) {
			p := dcaParams("500", time.Hour)
			p.TotalBudget = &smallBudget
			s.Params = p
		}, ErrInvalidBudget},
		{"dca max", func(s *domain.Strategy) {
			p := dcaParams("500", time.Hour)
			p.MaxExecutions = &zero
			s.Params = p
		}, ErrInvalidMaxExecutions},
		{"limit side", func(s *domain.Strategy) {
			s.Params = &domain.LimitOrderParams{Side: "hold", TargetPrice: dec("1"), Amount: dec("1")}
		}, ErrInvalidSide},
		{"limit target", func(s *domain.Strategy) {
			s.Params = &domain.LimitOrderParams{Side: domain.SideBuy, Amount: dec("1")}
		}, ErrInvalidTargetPrice},
		{"limit buy amount", func(s *domain.Strategy) {
			s.Params = &domain.LimitOrderParams{Side: domain.SideBuy, TargetPrice: dec("1")}
		}, ErrInvalidOrderAmount},
		{"stop reference", func(s *domain.Strategy) {
			s.Params = &domain.StopLossParams{TriggerPct: dec("10")}
		}, ErrInvalidReferencePrice},
		{"stop pct", func(s *domain.Strategy) {
			s.Params = &domain.StopLossParams{ReferencePrice: dec("100"), TriggerPct: dec("100")}
		}, ErrInvalidTriggerPct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStrategy(dcaParams("500", time.Hour))
			tt.mutate(s)
			_, err := FromConfig(s)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDCA_FiresOnInterval(t *testing.T) {
	s := newStrategy(dcaParams("500", 24*time.Hour))
	strat := mustFromConfig(t, s)
	ctx := context.Background()

	sig, err := strat.Evaluate(ctx, t0, nil)
	if err != nil || sig == nil {
		t.Fatalf("first tick should fire: sig=%v err=%v", sig, err)
	}
	if sig.Side != domain.SideBuy || !sig.Amount.Equal(dec("500")) || sig.Slot != 0 {
		t.Errorf("unexpected signal %+v", sig)
	}
	strat.Record(success(tkn.ToUnits(dec("5"))), t0)

	if sig, _ := strat.Evaluate(ctx, t0.Add(23*time.Hour), nil); sig != nil {
		t.Errorf("should not fire before the interval elapsed")
	}

	sig, _ = strat.Evaluate(ctx, t0.Add(24*time.Hour), nil)
	if sig == nil {
		t.Fatal("should fire once the interval elapsed")
	}
	if sig.Slot != 1 {
		t.Errorf("expected slot 1, got %d", sig.Slot)
	}

	p := s.Params.(*domain.DCAParams)
	if p.Executions != 1 || !p.TotalSpent.Equal(dec("500")) || !p.TotalAcquired.Equal(dec("5")) {
		t.Errorf("unexpected state %+v", p)
	}
	if !strat.Dirty() {
		t.Error("Record should mark the strategy dirty")
	}
}

func TestDCA_FailedAttemptConsumesSlot(t *testing.T) {
	s := newStrategy(dcaParams("500", time.Hour))
	strat := mustFromConfig(t, s)

	strat.Record(failure(domain.ErrorKindQuoteFailed), t0)

	p := s.Params.(*domain.DCAParams)
	if p.Executions != 1 || !p.TotalSpent.Equal(dec("500")) {
		t.Errorf("failed attempt should still count: %+v", p)
	}
	if !p.TotalAcquired.IsZero() {
		t.Errorf("failed attempt acquired %s", p.TotalAcquired)
	}
	if s.LastRun == nil || !s.LastRun.Equal(t0) {
		t.Errorf("LastRun not recorded")
	}
	if sig, _ := strat.Evaluate(context.Background(), t0.Add(30*time.Minute), nil); sig != nil {
		t.Error("should wait for the next interval after a failure")
	}
}

func TestDCA_BudgetCap(t *testing.T) {
	budget := dec("1200")
	p := dcaParams("500", time.Hour)
	p.TotalBudget = &budget
	s := newStrategy(p)
	strat := mustFromConfig(t, s)
	ctx := context.Background()

	fired := 0
	now := t0
	for i := 0; i < 5; i++ {
		sig, err := strat.Evaluate(ctx, now, nil)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if sig != nil {
			fired++
			strat.Record(success(tkn.ToUnits(dec("5"))), now)
		}
		now = now.Add(time.Hour)
	}

	// floor(1200 / 500) = 2
	if fired != 2 {
		t.Errorf("expected 2 executions, got %d", fired)
	}
	if s.Status != domain.StatusCompleted || s.Active {
		t.Errorf("expected completed, got %s (active=%v)", s.Status, s.Active)
	}
	if !p.TotalSpent.Equal(dec("1000")) {
		t.Errorf("expected total spent 1000, got %s", p.TotalSpent)
	}
}

func TestDCA_MaxExecutions(t *testing.T) {
	max := 3
	p := dcaParams("10", time.Minute)
	p.MaxExecutions = &max
	s := newStrategy(p)
	strat := mustFromConfig(t, s)

	now := t0
	for i := 0; i < 3; i++ {
		strat.Record(success(tkn.ToUnits(dec("0.1"))), now)
		now = now.Add(time.Minute)
	}
	if s.Status != domain.StatusCompleted {
		t.Errorf("expected completed after %d executions, got %s", max, s.Status)
	}
}

func TestLimitOrder_Buy(t *testing.T) {
	feed := pricefeed.NewStatic(map[string]decimal.Decimal{"TKN": dec("95")})
	s := newStrategy(&domain.LimitOrderParams{Side: domain.SideBuy, TargetPrice: dec("90"), Amount: dec("100")})
	strat := mustFromConfig(t, s)
	ctx := context.Background()

	if sig, err := strat.Evaluate(ctx, t0, feed); err != nil || sig != nil {
		t.Fatalf("price above target should not fire: sig=%v err=%v", sig, err)
	}

	feed.SetPrice("TKN", dec("90"))
	sig, err := strat.Evaluate(ctx, t0, feed)
	if err != nil || sig == nil {
		t.Fatalf("price at target should fire: sig=%v err=%v", sig, err)
	}
	if sig.Side != domain.SideBuy || !sig.Price.Equal(dec("90")) {
		t.Errorf("unexpected signal %+v", sig)
	}

	strat.Record(success(tkn.ToUnits(dec("1.1"))), t0)
	if s.Active || s.Status != domain.StatusExecuted {
		t.Errorf("expected executed and inactive, got %s", s.Status)
	}
}

func TestLimitOrder_SellAboveTarget(t *testing.T) {
	feed := pricefeed.NewStatic(map[string]decimal.Decimal{"TKN": dec("109.99")})
	s := newStrategy(&domain.LimitOrderParams{Side: domain.SideSell, TargetPrice: dec("110")})
	strat := mustFromConfig(t, s)

	if sig, _ := strat.Evaluate(context.Background(), t0, feed); sig != nil {
		t.Fatal("sell below target should not fire")
	}
	feed.SetPrice("TKN", dec("111"))
	sig, _ := strat.Evaluate(context.Background(), t0, feed)
	if sig == nil || sig.Side != domain.SideSell || !sig.Amount.IsZero() {
		t.Fatalf("expected whole-position sell, got %+v", sig)
	}
}

func TestLimitOrder_FailureIsTerminal(t *testing.T) {
	s := newStrategy(&domain.LimitOrderParams{Side: domain.SideBuy, TargetPrice: dec("90"), Amount: dec("100")})
	strat := mustFromConfig(t, s)

	strat.Record(failure(domain.ErrorKindReverted), t0)
	if s.Active || s.Status != domain.StatusFailed {
		t.Errorf("expected failed and inactive, got %s", s.Status)
	}
}

func TestLimitOrder_PriceError(t *testing.T) {
	s := newStrategy(&domain.LimitOrderParams{Side: domain.SideBuy, TargetPrice: dec("90"), Amount: dec("100")})
	strat := mustFromConfig(t, s)

	_, err := strat.Evaluate(context.Background(), t0, pricefeed.NewStatic(nil))
	if !errors.Is(err, pricefeed.ErrNoPrice) {
		t.Errorf("expected ErrNoPrice, got %v", err)
	}
	if strat.Dirty() {
		t.Error("a price error must not change state")
	}
}

func TestStopLoss_TrailingMonotonic(t *testing.T) {
	feed := pricefeed.NewStatic(nil)
	p := &domain.StopLossParams{ReferencePrice: dec("100"), TriggerPct: dec("10"), Trailing: true}
	s := newStrategy(p)
	strat := mustFromConfig(t, s)
	ctx := context.Background()

	steps := []struct {
		price    string
		wantRef  string
		wantStop string
		fires    bool
	}{
		{"100", "100", "90", false},
		{"120", "120", "108", false},
		{"110", "120", "108", false}, // never lowered
		{"130", "130", "117", false},
		{"118", "130", "117", false},
		{"117", "130", "117", true},
	}

	prevRef := p.ReferencePrice
	for i, step := range steps {
		feed.SetPrice("TKN", dec(step.price))
		sig, err := strat.Evaluate(ctx, t0.Add(time.Duration(i)*time.Minute), feed)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if p.ReferencePrice.LessThan(prevRef) {
			t.Fatalf("step %d: reference lowered from %s to %s", i, prevRef, p.ReferencePrice)
		}
		prevRef = p.ReferencePrice
		if !p.ReferencePrice.Equal(dec(step.wantRef)) {
			t.Errorf("step %d: expected reference %s, got %s", i, step.wantRef, p.ReferencePrice)
		}
		if !p.StopPrice.Equal(dec(step.wantStop)) {
			t.Errorf("step %d: expected stop %s, got %s", i, step.wantStop, p.StopPrice)
		}
		if (sig != nil) != step.fires {
			t.Errorf("step %d: fires=%v, want %v", i, sig != nil, step.fires)
		}
	}
}

func TestStopLoss_FixedReference(t *testing.T) {
	feed := pricefeed.NewStatic(map[string]decimal.Decimal{"TKN": dec("150")})
	p := &domain.StopLossParams{ReferencePrice: dec("100"), TriggerPct: dec("5"), Amount: dec("2")}
	s := newStrategy(p)
	strat := mustFromConfig(t, s)
	ctx := context.Background()

	if sig, _ := strat.Evaluate(ctx, t0, feed); sig != nil {
		t.Fatal("should not fire above stop")
	}
	if !p.ReferencePrice.Equal(dec("100")) {
		t.Errorf("non-trailing reference moved to %s", p.ReferencePrice)
	}

	feed.SetPrice("TKN", dec("95"))
	sig, _ := strat.Evaluate(ctx, t0, feed)
	if sig == nil {
		t.Fatal("should fire at stop")
	}
	if sig.Side != domain.SideSell || !sig.Amount.Equal(dec("2")) {
		t.Errorf("unexpected signal %+v", sig)
	}

	strat.Record(success(usdc.ToUnits(dec("190"))), t0)
	if s.Active || s.Status != domain.StatusExecuted {
		t.Errorf("expected executed, got %s", s.Status)
	}
}
