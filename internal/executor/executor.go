// Package executor turns swap intents into ledger entries, either simulated
// at the quoted price or settled on-chain.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swap-engine/internal/chain"
	"swap-engine/internal/credentials"
	"swap-engine/internal/domain"
	"swap-engine/internal/ledger"
	"swap-engine/internal/lock"
	"swap-engine/internal/observability"
	"swap-engine/internal/quote"
	"swap-engine/internal/storage"
)

// QuoteSource prices intents and builds swap calldata.
type QuoteSource interface {
	GetQuote(ctx context.Context, chain string, tokenIn, tokenOut domain.Token, amountIn *big.Int) (*domain.Quote, error)
	BuildSwap(ctx context.Context, q *domain.Quote, sender common.Address, slippageBps int) (*quote.SwapTx, error)
	Validity() time.Duration
}

// TradeLog records the audit trail of every executed intent.
type TradeLog interface {
	Append(ctx context.Context, rec *domain.TradeRecord) (int64, error)
	UpdateStatus(ctx context.Context, id int64, u *domain.TradeUpdate) error
}

// Options configures an Executor.
type Options struct {
	Quotes      QuoteSource
	Trades      TradeLog
	Paper       *ledger.Ledger // book for simulated intents
	Live        *ledger.Ledger // book for live intents
	Credentials credentials.Store
	RPC         map[string]chain.RPCClient // by chain name, live mode only
	Chains      map[string]domain.Chain    // defaults to domain.KnownChains()
	Locker      lock.Locker                // defaults to lock.NewLocal()

	ConfirmTimeout time.Duration
	ApproveTimeout time.Duration
	PollInterval   time.Duration

	Clock  func() time.Time
	Logger *log.Logger
}

// Executor executes swap intents. At most one intent per wallet is in flight.
type Executor struct {
	quotes  QuoteSource
	trades  TradeLog
	paper   *ledger.Ledger
	live    *ledger.Ledger
	creds   credentials.Store
	rpc     map[string]chain.RPCClient
	chains  map[string]domain.Chain
	locker  lock.Locker
	confirm time.Duration
	approve time.Duration
	poll    time.Duration
	clock   func() time.Time
	logger  *log.Logger
}

// New creates an Executor.
func New(opts Options) *Executor {
	e := &Executor{
		quotes:  opts.Quotes,
		trades:  opts.Trades,
		paper:   opts.Paper,
		live:    opts.Live,
		creds:   opts.Credentials,
		rpc:     opts.RPC,
		chains:  opts.Chains,
		locker:  opts.Locker,
		confirm: opts.ConfirmTimeout,
		approve: opts.ApproveTimeout,
		poll:    opts.PollInterval,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}
	if e.chains == nil {
		e.chains = domain.KnownChains()
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.creds == nil {
		e.creds = credentials.NewMemoryStore()
	}
	if e.confirm <= 0 {
		e.confirm = chain.DefaultConfirmTimeout
	}
	if e.approve <= 0 {
		e.approve = chain.DefaultApproveTimeout
	}
	if e.poll <= 0 {
		e.poll = chain.DefaultPollInterval
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	if e.logger == nil {
		e.logger = log.New(io.Discard, "", 0)
	}
	return e
}

// Ledger returns the book used for mode.
func (e *Executor) Ledger(mode domain.ExecutionMode) *ledger.Ledger {
	if mode == domain.ModeLive {
		return e.live
	}
	return e.paper
}

// run carries the state of one execution between steps.
type run struct {
	intent   *domain.SwapIntent
	amountIn *big.Int // resolved amount, smallest units of TokenIn
	tradeID  int64
	book     *ledger.Ledger
}

// Execute runs intent to completion. Every failure is reported in the
// returned result; Execute never returns nil.
func (e *Executor) Execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult {
	start := time.Now()
	res := e.execute(ctx, intent)
	outcome := "success"
	if !res.Success {
		outcome = string(res.ErrorKind)
	}
	observability.RecordSwap(string(res.Mode), string(res.Side), outcome, time.Since(start).Seconds())
	e.logger.Printf("%s", res)
	return res
}

func (e *Executor) execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult {
	if intent == nil {
		return &domain.SwapResult{ErrorKind: domain.ErrorKindInvalidInput, Error: "intent is required", ExecutedAt: e.clock()}
	}
	if err := intent.Validate(); err != nil {
		return e.fail(intent, domain.ErrorKindInvalidInput, err)
	}
	if _, ok := e.chains[intent.Chain]; !ok {
		return e.fail(intent, domain.ErrorKindInvalidInput, fmt.Errorf("unknown chain %q", intent.Chain))
	}
	book := e.Ledger(intent.Mode)
	if book == nil {
		return e.fail(intent, domain.ErrorKindInvalidInput, fmt.Errorf("no ledger configured for %s mode", intent.Mode))
	}

	release, err := e.locker.Lock(ctx, "wallet:"+intent.WalletID)
	if err != nil {
		return e.fail(intent, domain.ErrorKindWalletBusy, fmt.Errorf("acquire wallet lock: %w", err))
	}
	defer release()

	tradeID, err := e.trades.Append(ctx, e.pendingRecord(intent))
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return e.fail(intent, domain.ErrorKindDuplicate, fmt.Errorf("intent %s already executed", intent.ID))
		}
		return e.fail(intent, domain.ErrorKindLedgerFailed, err)
	}

	r := &run{intent: intent, amountIn: new(big.Int).Set(intent.AmountIn), tradeID: tradeID, book: book}
	res := e.prepare(ctx, r)
	if res == nil {
		if intent.Mode == domain.ModeLive {
			res = e.executeLive(ctx, r)
		} else {
			res = e.executeSimulated(ctx, r)
		}
	}
	res.TradeID = tradeID
	e.finish(ctx, r, res)
	return res
}

// prepare resolves the sell size and checks cash. Returns a failed result or nil.
func (e *Executor) prepare(ctx context.Context, r *run) *domain.SwapResult {
	in := r.intent
	switch in.Side {
	case domain.SideSell:
		pos, err := r.book.Position(ctx, in.WalletID, in.TokenIn)
		if err != nil {
			if errors.Is(err, ledger.ErrNoPosition) {
				return e.fail(in, domain.ErrorKindNoPosition, fmt.Errorf("no open %s position", in.TokenIn))
			}
			return e.fail(in, domain.ErrorKindLedgerFailed, err)
		}
		units := in.TokenIn.ToUnits(pos.Quantity)
		if units.Sign() <= 0 {
			return e.fail(in, domain.ErrorKindNoPosition, fmt.Errorf("open %s position is empty", in.TokenIn))
		}
		if in.AmountIn.Sign() > 0 && in.AmountIn.Cmp(units) != 0 {
			e.logger.Printf("intent %s: sells close the whole position, selling %s instead of %s", in.ID, pos.Quantity, in.TokenIn.FromUnits(in.AmountIn))
		}
		r.amountIn = units
	case domain.SideBuy:
		spend := in.TokenIn.FromUnits(r.amountIn)
		cash, err := r.book.Cash(ctx, in.WalletID)
		if err != nil {
			return e.fail(in, domain.ErrorKindLedgerFailed, err)
		}
		if cash.LessThan(spend) {
			return e.fail(in, domain.ErrorKindInsufficientCash, fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientCash, cash, spend))
		}
	}
	return nil
}

// persistTimeout bounds ledger and trade log writes once a swap outcome is known.
const persistTimeout = 15 * time.Second

// persistCtx detaches from the caller's cancellation: an outcome that already
// happened (a mined or submitted tx) must be recorded even if the caller left.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

// settle applies a successful swap to the ledger.
func (e *Executor) settle(ctx context.Context, r *run, res *domain.SwapResult, q *domain.Quote) *domain.SwapResult {
	ctx, cancel := persistCtx(ctx)
	defer cancel()

	in := r.intent
	spent := in.TokenIn.FromUnits(r.amountIn)
	received := in.TokenOut.FromUnits(res.AmountOut)
	if !spent.IsPositive() || !received.IsPositive() {
		return e.failWith(res, domain.ErrorKindLedgerFailed, errors.New("swap produced no output"))
	}

	switch in.Side {
	case domain.SideBuy:
		res.Price = spent.Div(received)
		if _, err := r.book.ApplyBuy(ctx, in.WalletID, in.TokenOut, spent, received, res.Price); err != nil {
			return e.failWith(res, ledgerKind(err), err)
		}
	case domain.SideSell:
		res.Price = received.Div(spent)
		// Book what the swap sold; booked quantity missing on-chain becomes Shortfall.
		closed, err := r.book.ApplySellFill(ctx, in.WalletID, in.TokenIn, spent, received, res.TxHash)
		if err != nil {
			return e.failWith(res, ledgerKind(err), err)
		}
		res.Closed = closed
	}
	res.Success = true
	res.Provider = q.Provider
	return res
}

func ledgerKind(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCash):
		return domain.ErrorKindInsufficientCash
	case errors.Is(err, ledger.ErrNoPosition):
		return domain.ErrorKindNoPosition
	default:
		return domain.ErrorKindLedgerFailed
	}
}

func quoteKind(err error) domain.ErrorKind {
	if quote.KindOf(err) == quote.KindExpired {
		return domain.ErrorKindQuoteExpired
	}
	return domain.ErrorKindQuoteFailed
}

// finish moves the trade record to its terminal status.
func (e *Executor) finish(ctx context.Context, r *run, res *domain.SwapResult) {
	ctx, cancel := persistCtx(ctx)
	defer cancel()

	in := r.intent
	amountIn := in.TokenIn.FromUnits(r.amountIn)
	upd := &domain.TradeUpdate{
		Status:     domain.TradeStatusFailed,
		TxHash:     res.TxHash,
		AmountIn:   &amountIn,
		GasUsed:    res.GasUsed,
		Error:      res.Error,
		ExecutedAt: res.ExecutedAt,
	}
	if res.AmountOut != nil {
		out := in.TokenOut.FromUnits(res.AmountOut)
		upd.AmountOut = &out
	}
	if res.GasPrice != nil {
		gp := decimal.NewFromBigInt(res.GasPrice, 0)
		upd.GasPrice = &gp
	}
	// An on-chain swap that could not be booked still happened.
	if res.Success || (res.ErrorKind == domain.ErrorKindLedgerFailed && res.TxHash != "" && res.AmountOut != nil) {
		upd.Status = domain.TradeStatusSuccess
		price := res.Price
		upd.Price = &price
		notional := amountIn
		if in.Side == domain.SideSell {
			notional = in.TokenOut.FromUnits(res.AmountOut)
		}
		upd.Notional = &notional
	}

	if err := e.trades.UpdateStatus(ctx, r.tradeID, upd); err != nil {
		e.logger.Printf("intent %s: update trade %d: %v", in.ID, r.tradeID, err)
	}
	res.AmountIn = new(big.Int).Set(r.amountIn)
}

func (e *Executor) pendingRecord(in *domain.SwapIntent) *domain.TradeRecord {
	meta, _ := json.Marshal(map[string]interface{}{
		"mode":         in.Mode,
		"slippage_bps": in.SlippageBps,
	})
	return &domain.TradeRecord{
		IntentID:        in.ID,
		WalletID:        in.WalletID,
		StrategyID:      in.StrategyID,
		TradeType:       in.Side,
		TokenInSymbol:   in.TokenIn.Symbol,
		TokenInAddress:  in.TokenIn.Address,
		TokenOutSymbol:  in.TokenOut.Symbol,
		TokenOutAddress: in.TokenOut.Address,
		AmountIn:        in.TokenIn.FromUnits(in.AmountIn),
		AmountOut:       decimal.Zero,
		Price:           decimal.Zero,
		Notional:        decimal.Zero,
		GasPrice:        decimal.Zero,
		Network:         in.Chain,
		DryRun:          in.Mode.IsDryRun(),
		Metadata:        meta,
		CreatedAt:       e.clock(),
	}
}

func (e *Executor) fail(intent *domain.SwapIntent, kind domain.ErrorKind, err error) *domain.SwapResult {
	res := domain.Failed(intent, kind, err)
	res.ExecutedAt = e.clock()
	return res
}

// failWith marks an in-progress result failed, keeping tx details already gathered.
func (e *Executor) failWith(res *domain.SwapResult, kind domain.ErrorKind, err error) *domain.SwapResult {
	res.Success = false
	res.ErrorKind = kind
	res.Error = err.Error()
	res.ExecutedAt = e.clock()
	return res
}
