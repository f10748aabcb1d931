// Package quote fetches swap quotes and builds swap transactions through
// DEX aggregator backends.
package quote

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swap-engine/internal/domain"
)

// Request asks a backend to price amountIn of TokenIn in TokenOut.
type Request struct {
	Chain    domain.Chain
	TokenIn  domain.Token
	TokenOut domain.Token
	AmountIn *big.Int
}

// BuildRequest asks the backend that produced Quote for executable calldata.
type BuildRequest struct {
	Chain        domain.Chain
	Quote        *domain.Quote
	Sender       common.Address // also the recipient
	SlippageBps  int
	MinAmountOut *big.Int
	Deadline     time.Time
}

// SwapTx is an unsigned swap transaction returned by a backend.
type SwapTx struct {
	To       common.Address
	Data     []byte
	Value    *big.Int // native value to send, never nil
	Gas      uint64   // backend estimate, 0 = unknown
	GasPrice *big.Int // backend suggestion, nil = ask the node
}

// Backend is a single routing API.
type Backend interface {
	// Name identifies the backend; it is stored in Quote.Provider.
	Name() string

	// Quote prices the request. A zero or missing output must be KindNoRoute.
	Quote(ctx context.Context, req Request) (*domain.Quote, error)

	// Build returns calldata for a quote this backend produced.
	Build(ctx context.Context, req BuildRequest) (*SwapTx, error)
}

// ParseAmount parses a decimal or 0x-prefixed hex integer string.
func ParseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
