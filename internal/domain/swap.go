package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a swap relative to the traded asset.
type Side string

// Swap side constants
const (
	SideBuy  Side = "buy"  // spend quote currency, receive the asset
	SideSell Side = "sell" // spend the asset, receive quote currency
)

// Valid reports whether the side is known.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ExecutionMode selects between the paper ledger and real chain submission.
type ExecutionMode string

// Execution modes
const (
	ModeSimulated ExecutionMode = "simulated"
	ModeLive      ExecutionMode = "live"
)

// IsDryRun reports whether the mode never touches the chain.
func (m ExecutionMode) IsDryRun() bool {
	return m != ModeLive
}

// ErrorKind classifies why a swap failed.
type ErrorKind string

// Swap error kinds
const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindInvalidInput     ErrorKind = "invalid_input"
	ErrorKindNoCredentials    ErrorKind = "no_credentials"
	ErrorKindQuoteFailed      ErrorKind = "quote_failed"
	ErrorKindQuoteExpired     ErrorKind = "quote_expired"
	ErrorKindInsufficientGas  ErrorKind = "insufficient_gas"
	ErrorKindInsufficientCash ErrorKind = "insufficient_cash"
	ErrorKindNoPosition       ErrorKind = "no_position"
	ErrorKindApprovalFailed   ErrorKind = "approval_failed"
	ErrorKindSubmissionFailed ErrorKind = "submission_failed"
	ErrorKindReverted         ErrorKind = "reverted"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindDuplicate        ErrorKind = "duplicate"
	ErrorKindLedgerFailed     ErrorKind = "ledger_failed"
	ErrorKindWalletBusy       ErrorKind = "wallet_busy" // not attempted: another swap holds the wallet
)

// SwapIntent is the unit of work consumed exactly once by the executor.
type SwapIntent struct {
	ID          string        // unique; deterministic for strategy slots
	Chain       string        // chain name
	WalletID    string        // managed wallet identifier
	Side        Side          // buy | sell
	TokenIn     Token         // token spent
	TokenOut    Token         // token received
	AmountIn    *big.Int      // smallest units of TokenIn; zero on a sell means the whole open position
	SlippageBps int           // max tolerated slippage
	Mode        ExecutionMode // simulated | live
	StrategyID  string        // optional originating strategy
	CreatedAt   time.Time
}

// Asset returns the token whose position the intent opens or closes.
func (i *SwapIntent) Asset() Token {
	if i.Side == SideSell {
		return i.TokenIn
	}
	return i.TokenOut
}

// QuoteCurrency returns the token used as cash for the intent.
func (i *SwapIntent) QuoteCurrency() Token {
	if i.Side == SideSell {
		return i.TokenOut
	}
	return i.TokenIn
}

// Intent validation errors
var (
	ErrMissingIntentID   = errors.New("intent id is required")
	ErrMissingWallet     = errors.New("wallet id is required")
	ErrInvalidSide       = errors.New("side must be buy or sell")
	ErrSameToken         = errors.New("token in and token out must differ")
	ErrChainMismatch     = errors.New("tokens must be on the intent chain")
	ErrNonPositiveAmount = errors.New("amount in must be positive")
	ErrInvalidSlippage   = errors.New("slippage bps must be in [0, 10000)")
	ErrInvalidMode       = errors.New("mode must be simulated or live")
)

// Validate checks the intent before any external call is made.
func (i *SwapIntent) Validate() error {
	if i.ID == "" {
		return ErrMissingIntentID
	}
	if i.WalletID == "" {
		return ErrMissingWallet
	}
	if !i.Side.Valid() {
		return ErrInvalidSide
	}
	if i.Mode != ModeSimulated && i.Mode != ModeLive {
		return ErrInvalidMode
	}
	if err := i.TokenIn.Validate(); err != nil {
		return err
	}
	if err := i.TokenOut.Validate(); err != nil {
		return err
	}
	if i.TokenIn.Equal(i.TokenOut) {
		return ErrSameToken
	}
	if i.TokenIn.Chain != i.Chain || i.TokenOut.Chain != i.Chain {
		return ErrChainMismatch
	}
	if i.AmountIn == nil || i.AmountIn.Sign() < 0 {
		return ErrNonPositiveAmount
	}
	// A zero amount is only meaningful as "sell everything".
	if i.AmountIn.Sign() == 0 && i.Side != SideSell {
		return ErrNonPositiveAmount
	}
	if i.SlippageBps < 0 || i.SlippageBps >= MaxSlippageBps {
		return ErrInvalidSlippage
	}
	return nil
}

// SwapResult is the immutable outcome of executing a SwapIntent.
type SwapResult struct {
	IntentID       string
	TradeID        int64 // trade log id (0 if the record could not be written)
	Success        bool
	Mode           ExecutionMode
	Side           Side
	AmountIn       *big.Int        // smallest units actually spent
	AmountOut      *big.Int        // realized (or quoted) output, smallest units
	Price          decimal.Decimal // quote-currency price of the asset
	TxHash         string          // live mode only
	ApprovalTxHash string          // set when an approval was submitted
	GasUsed        uint64
	GasPrice       *big.Int
	Provider       string
	ErrorKind      ErrorKind
	Error          string
	Closed         *ClosedPosition // set by successful sells
	ExecutedAt     time.Time
}

// Failed builds a failed result for the intent.
func Failed(intent *SwapIntent, kind ErrorKind, err error) *SwapResult {
	r := &SwapResult{
		IntentID:   intent.ID,
		Mode:       intent.Mode,
		Side:       intent.Side,
		AmountIn:   intent.AmountIn,
		ErrorKind:  kind,
		ExecutedAt: time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func (r *SwapResult) String() string {
	if r.Success {
		return fmt.Sprintf("intent %s ok (%s, tx=%s)", r.IntentID, r.Mode, r.TxHash)
	}
	return fmt.Sprintf("intent %s failed (%s): %s", r.IntentID, r.ErrorKind, r.Error)
}
