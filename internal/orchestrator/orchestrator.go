// Package orchestrator dispatches externally produced decision batches.
// It resolves each decision to a swap intent and hands it to the executor
// in batch order: validation → token resolution → intent → execute.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"swap-engine/internal/domain"
	"swap-engine/internal/idhash"
)

// Executor runs a swap intent to completion.
type Executor interface {
	Execute(ctx context.Context, intent *domain.SwapIntent) *domain.SwapResult
}

// Tokens resolves decision symbols. Satisfied by *config.Config.
type Tokens interface {
	TokenBySymbol(chain, symbol string) (domain.Token, bool)
	QuoteToken(chain string) (domain.Token, bool)
}

// Errors returned for a batch that cannot be dispatched at all.
var (
	ErrMissingWallet = errors.New("batch wallet id is required")
	ErrNoChain       = errors.New("batch chain is required")
	ErrNoQuoteToken  = errors.New("quote currency is not configured on chain")
)

// ErrUnknownToken is reported per decision when the symbol is not configured.
var ErrUnknownToken = errors.New("unknown token")

// Orchestrator turns decision batches into executed swaps.
type Orchestrator struct {
	executor    Executor
	tokens      Tokens
	chain       string
	mode        domain.ExecutionMode
	slippageBps int
	clock       func() time.Time
	logger      *log.Logger
}

// Options for creating Orchestrator.
type Options struct {
	Executor    Executor
	Tokens      Tokens
	Chain       string               // default chain for batches that name none
	Mode        domain.ExecutionMode // default mode; simulated when empty
	SlippageBps int
	Clock       func() time.Time
	Logger      *log.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		executor:    opts.Executor,
		tokens:      opts.Tokens,
		chain:       opts.Chain,
		mode:        opts.Mode,
		slippageBps: opts.SlippageBps,
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
	if o.mode == "" {
		o.mode = domain.ModeSimulated
	}
	if o.clock == nil {
		o.clock = func() time.Time { return time.Now().UTC() }
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Batch is one set of decisions for a single wallet.
type Batch struct {
	ID          string               `json:"id,omitempty"` // generated when empty; fixes the intent ids
	WalletID    string               `json:"wallet_id"`
	Chain       string               `json:"chain,omitempty"`
	Mode        domain.ExecutionMode `json:"mode,omitempty"`
	SlippageBps *int                 `json:"slippage_bps,omitempty"`
	Decisions   []domain.Decision    `json:"decisions"`
}

// DecisionResult is the outcome of one decision.
type DecisionResult struct {
	Index    int                `json:"index"`
	Decision domain.Decision    `json:"decision"`
	IntentID string             `json:"intent_id,omitempty"`
	Success  bool               `json:"success"`
	Result   *domain.SwapResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// RunResult summarizes a dispatched batch.
type RunResult struct {
	BatchID   string            `json:"batch_id"`
	WalletID  string            `json:"wallet_id"`
	Mode      string            `json:"mode"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Results   []*DecisionResult `json:"results"`
}

// Run dispatches every decision of the batch in order. One failing decision
// never stops the batch; the returned error is reserved for batches that
// cannot be dispatched at all.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) (*RunResult, error) {
	if b == nil || b.WalletID == "" {
		return nil, ErrMissingWallet
	}
	chainName := strings.ToLower(b.Chain)
	if chainName == "" {
		chainName = o.chain
	}
	if chainName == "" {
		return nil, ErrNoChain
	}
	quoteToken, ok := o.tokens.QuoteToken(chainName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoQuoteToken, chainName)
	}

	mode := b.Mode
	if mode == "" {
		mode = o.mode
	}
	slippage := o.slippageBps
	if b.SlippageBps != nil {
		slippage = *b.SlippageBps
	}
	batchID := b.ID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	result := &RunResult{
		BatchID:  batchID,
		WalletID: b.WalletID,
		Mode:     string(mode),
		Results:  make([]*DecisionResult, 0, len(b.Decisions)),
	}

	o.log("Batch %s: %d decisions for %s (%s)", batchID, len(b.Decisions), b.WalletID, mode)

	for i, d := range b.Decisions {
		dr := &DecisionResult{Index: i, Decision: d}
		result.Results = append(result.Results, dr)

		if err := ctx.Err(); err != nil {
			dr.Error = fmt.Sprintf("not dispatched: %v", err)
			result.Failed++
			continue
		}

		intent, err := o.intentFor(batchID, b.WalletID, chainName, i, d, quoteToken, mode, slippage)
		if err != nil {
			dr.Error = err.Error()
			result.Failed++
			o.log("  [%d] %s %s rejected: %v", i, d.Action, d.Token, err)
			continue
		}
		dr.IntentID = intent.ID

		res := o.executor.Execute(ctx, intent)
		dr.Result = res
		dr.Success = res.Success
		if res.Success {
			result.Succeeded++
			o.log("  [%d] %s %s ok", i, d.Action, d.Token)
			continue
		}
		dr.Error = res.Error
		result.Failed++
		o.log("  [%d] %s %s failed (%s): %s", i, d.Action, d.Token, res.ErrorKind, res.Error)
	}

	o.log("Batch %s completed: %d succeeded, %d failed", batchID, result.Succeeded, result.Failed)
	return result, nil
}

// intentFor validates a decision and builds its intent. Buys spend the
// quote currency; sells spend the asset (zero sells the whole position).
func (o *Orchestrator) intentFor(
	batchID, walletID, chainName string,
	index int,
	d domain.Decision,
	quoteToken domain.Token,
	mode domain.ExecutionMode,
	slippage int,
) (*domain.SwapIntent, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	asset, ok := o.tokens.TokenBySymbol(chainName, d.Token)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownToken, d.Token, chainName)
	}

	intent := &domain.SwapIntent{
		ID:          idhash.ComputeDecisionIntentID(batchID, walletID, index, strings.ToUpper(d.Token), string(d.Action)),
		Chain:       chainName,
		WalletID:    walletID,
		Side:        d.Action,
		SlippageBps: slippage,
		Mode:        mode,
		CreatedAt:   o.clock(),
	}
	switch d.Action {
	case domain.SideBuy:
		intent.TokenIn, intent.TokenOut = quoteToken, asset
		intent.AmountIn = quoteToken.ToUnits(d.Amount)
	default:
		intent.TokenIn, intent.TokenOut = asset, quoteToken
		intent.AmountIn = asset.ToUnits(d.Amount)
	}
	if intent.AmountIn == nil {
		intent.AmountIn = new(big.Int)
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	o.logger.Printf(format, args...)
}
