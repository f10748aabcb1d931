package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"swap-engine/internal/domain"
	"swap-engine/internal/idhash"
	"swap-engine/internal/observability"
	"swap-engine/internal/pricefeed"
	"swap-engine/internal/storage"
)

// ErrInvalidConfig wraps every validation failure returned by Create.
var ErrInvalidConfig = errors.New("invalid strategy config")

// Executor runs a swap intent to completion.
type Executor interface {
	Execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult
}

// Options configures an Engine.
type Options struct {
	Store    storage.StrategyStore
	Executor Executor
	Prices   pricefeed.Feed
	Mode     domain.ExecutionMode // mode for strategies that are not dry-run; default simulated
	Clock    func() time.Time
	Logger   *log.Logger

	// Protected books have their positions' stop-loss and take-profit
	// levels checked on every tick. Quotes is required when set.
	Protected   []ProtectedBook
	Quotes      QuoteTokens
	SlippageBps int // protective sells; default DefaultProtectionSlippageBps
}

// Engine evaluates active strategies on each tick. It has no scheduler of
// its own; callers invoke Tick.
type Engine struct {
	store    storage.StrategyStore
	executor Executor
	prices   pricefeed.Feed
	mode     domain.ExecutionMode
	clock    func() time.Time
	logger   *log.Logger

	protected   []ProtectedBook
	quotes      QuoteTokens
	slippageBps int
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:    opts.Store,
		executor: opts.Executor,
		prices:   opts.Prices,
		mode:     opts.Mode,
		clock:    opts.Clock,
		logger:   opts.Logger,

		protected:   opts.Protected,
		quotes:      opts.Quotes,
		slippageBps: opts.SlippageBps,
	}
	if e.slippageBps <= 0 {
		e.slippageBps = DefaultProtectionSlippageBps
	}
	if e.mode == "" {
		e.mode = domain.ModeSimulated
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	return e
}

// Evaluation outcomes
const (
	OutcomeIdle     = "idle"     // condition not met
	OutcomeFired    = "fired"    // intent executed (see Result)
	OutcomeSkipped  = "skipped"  // deactivated before evaluation
	OutcomeDeferred = "deferred" // wallet busy; retried next tick
	OutcomeError    = "error"    // config, price or store error
)

// Evaluation is the outcome of one strategy in one tick.
type Evaluation struct {
	StrategyID string                `json:"strategy_id,omitempty"`
	WalletID   string                `json:"wallet_id"`
	Book       string                `json:"book,omitempty"`  // protection only
	Token      string                `json:"token,omitempty"` // protection only
	Kind       domain.StrategyKind   `json:"kind"`
	Outcome    string                `json:"outcome"`
	Reason     string                `json:"reason,omitempty"`
	IntentID   string                `json:"intent_id,omitempty"`
	Result     *domain.SwapResult    `json:"result,omitempty"`
	Status     domain.StrategyStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
}

// TickReport summarizes one tick.
type TickReport struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Active      int           `json:"active"`
	Fired       int           `json:"fired"`
	Succeeded   int           `json:"succeeded"`
	Errors      int           `json:"errors"`
	Evaluations []*Evaluation `json:"evaluations"`
}

// Tick evaluates every active strategy once, then the protective levels of
// open positions. Wallets are evaluated concurrently, the strategies of one
// wallet in creation order. A failing strategy never aborts the tick; the
// returned error is reserved for failures to list strategies.
func (e *Engine) Tick(ctx context.Context) (*TickReport, error) {
	start := time.Now()
	report := &TickReport{StartedAt: e.clock()}

	active, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active strategies: %w", err)
	}
	report.Active = len(active)

	byWallet := make(map[string][]string)
	var wallets []string
	for _, s := range active {
		if _, ok := byWallet[s.WalletID]; !ok {
			wallets = append(wallets, s.WalletID)
		}
		byWallet[s.WalletID] = append(byWallet[s.WalletID], s.ID)
	}
	protections, listErrs := e.protectedByWallet(ctx)
	report.Evaluations = append(report.Evaluations, listErrs...)
	for w := range protections {
		if _, ok := byWallet[w]; !ok {
			byWallet[w] = nil
			wallets = append(wallets, w)
		}
	}
	sort.Strings(wallets)

	var mu sync.Mutex
	add := func(ev *Evaluation) {
		mu.Lock()
		report.Evaluations = append(report.Evaluations, ev)
		mu.Unlock()
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range wallets {
		ids := byWallet[w]
		ps := protections[w]
		sortProtections(ps)
		g.Go(func() error {
			for _, id := range ids {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				add(e.evaluate(gctx, id))
			}
			// Re-read after the wallet's strategies ran; one may have sold.
			for _, p := range ps {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if p = e.current(gctx, p); p.pos != nil {
					add(e.protect(gctx, p))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Evaluations, func(i, j int) bool {
		a, b := report.Evaluations[i], report.Evaluations[j]
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		if a.WalletID != b.WalletID {
			return a.WalletID < b.WalletID
		}
		if a.Book != b.Book {
			return a.Book < b.Book
		}
		return a.Token < b.Token
	})
	for _, ev := range report.Evaluations {
		switch ev.Outcome {
		case OutcomeFired:
			report.Fired++
			if ev.Result != nil && ev.Result.Success {
				report.Succeeded++
			}
		case OutcomeError:
			report.Errors++
		}
	}
	report.Duration = time.Since(start)
	observability.RecordTick(report.Active, report.Duration.Seconds())
	e.logger.Printf("tick: %d active, %d fired, %d succeeded, %d errors", report.Active, report.Fired, report.Succeeded, report.Errors)
	return report, nil
}

// evaluate re-reads one strategy and runs it.
func (e *Engine) evaluate(ctx context.Context, id string) *Evaluation {
	ev := &Evaluation{StrategyID: id}

	s, err := e.store.GetByID(ctx, id)
	if err != nil {
		return e.failed(ev, fmt.Errorf("load strategy: %w", err))
	}
	ev.WalletID = s.WalletID
	ev.Kind = s.Kind()
	ev.Status = s.Status
	if !s.Active {
		ev.Outcome = OutcomeSkipped
		ev.Reason = "deactivated"
		observability.RecordStrategyEvaluation(string(ev.Kind), OutcomeSkipped)
		return ev
	}

	strat, err := FromConfig(s)
	if err != nil {
		return e.failed(ev, err)
	}

	now := e.clock()
	sig, err := strat.Evaluate(ctx, now, e.prices)
	if err != nil {
		if serr := e.save(ctx, strat); serr != nil {
			err = fmt.Errorf("%w; %w", err, serr)
		}
		return e.failed(ev, err)
	}
	if sig == nil {
		ev.Outcome = OutcomeIdle
		if err := e.save(ctx, strat); err != nil {
			return e.failed(ev, err)
		}
		ev.Status = s.Status
		observability.RecordStrategyEvaluation(string(ev.Kind), OutcomeIdle)
		return ev
	}

	intent := e.intentFor(s, sig, now)
	ev.IntentID = intent.ID
	ev.Reason = sig.Reason
	e.logger.Printf("strategy %s (%s) fired: %s", s.ID, ev.Kind, sig.Reason)

	res := e.executor.Execute(ctx, intent)
	ev.Result = res
	if res.ErrorKind == domain.ErrorKindWalletBusy {
		// Nothing was attempted; the same slot fires again next tick.
		ev.Outcome = OutcomeDeferred
		observability.RecordStrategyEvaluation(string(ev.Kind), OutcomeDeferred)
		return ev
	}
	ev.Outcome = OutcomeFired

	strat.Record(res, e.clock())
	if err := e.save(ctx, strat); err != nil {
		ev.Error = err.Error()
		e.logger.Printf("strategy %s: save state: %v", s.ID, err)
	}
	ev.Status = s.Status
	observability.RecordStrategyEvaluation(string(ev.Kind), OutcomeFired)
	return ev
}

func (e *Engine) intentFor(s *domain.Strategy, sig *Signal, now time.Time) *domain.SwapIntent {
	mode := e.mode
	if s.DryRun {
		mode = domain.ModeSimulated
	}
	return &domain.SwapIntent{
		ID:          idhash.ComputeIntentID(s.ID, s.WalletID, sig.Slot),
		Chain:       s.Chain,
		WalletID:    s.WalletID,
		Side:        sig.Side,
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		AmountIn:    s.TokenIn.ToUnits(sig.Amount),
		SlippageBps: s.SlippageBps,
		Mode:        mode,
		StrategyID:  s.ID,
		CreatedAt:   now,
	}
}

// save persists a changed strategy. A manual deactivation that landed
// while the strategy was executing is kept.
func (e *Engine) save(ctx context.Context, strat Strategy) error {
	if !strat.Dirty() {
		return nil
	}
	s := strat.Config()
	current, err := e.store.GetByID(ctx, s.ID)
	if err == nil && current.Status == domain.StatusDeactivated {
		s.Deactivate(domain.StatusDeactivated, s.UpdatedAt)
	}
	if err := e.store.Update(ctx, s); err != nil {
		return fmt.Errorf("save strategy %s: %w", s.ID, err)
	}
	return nil
}

func (e *Engine) failed(ev *Evaluation, err error) *Evaluation {
	ev.Outcome = OutcomeError
	ev.Error = err.Error()
	e.logger.Printf("strategy %s: %v", ev.StrategyID, err)
	observability.RecordStrategyEvaluation(string(ev.Kind), OutcomeError)
	return ev
}

// Create validates s, assigns an id when missing and stores it active.
func (e *Engine) Create(ctx context.Context, s *domain.Strategy) (*domain.Strategy, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingParams)
	}
	s = s.Clone()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := e.clock()
	s.Active = true
	s.Status = domain.StatusActive
	s.LastRun = nil
	s.CreatedAt = now
	s.UpdatedAt = now

	if _, err := FromConfig(s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if p, ok := s.Params.(*domain.StopLossParams); ok {
		p.StopPrice = domain.ComputeStopPrice(p.ReferencePrice, p.TriggerPct)
	}
	if err := e.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("insert strategy: %w", err)
	}
	e.refreshActive(ctx)
	return s, nil
}

// Deactivate stops a strategy. It takes effect at the next evaluation.
func (e *Engine) Deactivate(ctx context.Context, id string) (*domain.Strategy, error) {
	s, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return s, nil
	}
	if err := e.store.SetActive(ctx, id, false, domain.StatusDeactivated); err != nil {
		return nil, fmt.Errorf("deactivate strategy %s: %w", id, err)
	}
	e.refreshActive(ctx)
	return e.store.GetByID(ctx, id)
}

// List returns strategies, optionally only those of walletID.
func (e *Engine) List(ctx context.Context, walletID string) ([]*domain.Strategy, error) {
	return e.store.List(ctx, walletID)
}

// Get returns one strategy.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Strategy, error) {
	s, err := e.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("strategy %s: %w", id, err)
	}
	return s, err
}

func (e *Engine) refreshActive(ctx context.Context) {
	if active, err := e.store.ListActive(ctx); err == nil {
		observability.DefaultMetrics.ActiveStrategies.Set(float64(len(active)))
	}
}
