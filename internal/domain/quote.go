package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultQuoteValidity is how long a quote may be used before it must be re-fetched.
const DefaultQuoteValidity = 60 * time.Second

// MaxSlippageBps is the exclusive upper bound for slippage tolerance.
const MaxSlippageBps = 10000

// Quote is an immutable price/route snapshot returned by a routing backend.
type Quote struct {
	Chain        string          // chain name
	TokenIn      Token           // source token
	TokenOut     Token           // destination token
	AmountIn     *big.Int        // smallest units
	AmountOut    *big.Int        // expected output, smallest units
	Provider     string          // backend that produced the quote
	Route        json.RawMessage // backend-specific route payload needed to build the tx
	Spender      string          // allowance target for TokenIn (router or proxy)
	QuotedAt     time.Time       // when the backend answered
	EstimatedGas uint64          // gas units estimated by the backend (0 = unknown)
}

// Expired reports whether the quote is older than validity at now.
func (q *Quote) Expired(now time.Time, validity time.Duration) bool {
	if validity <= 0 {
		validity = DefaultQuoteValidity
	}
	return now.Sub(q.QuotedAt) > validity
}

// MinAmountOut returns AmountOut reduced by slippageBps basis points, rounded down.
func (q *Quote) MinAmountOut(slippageBps int) *big.Int {
	return MinAmountOut(q.AmountOut, slippageBps)
}

// MinAmountOut computes amountOut * (10000 - bps) / 10000 with floor rounding.
// bps outside [0, MaxSlippageBps) is clamped.
func MinAmountOut(amountOut *big.Int, slippageBps int) *big.Int {
	if amountOut == nil {
		return new(big.Int)
	}
	if slippageBps < 0 {
		slippageBps = 0
	}
	if slippageBps >= MaxSlippageBps {
		slippageBps = MaxSlippageBps - 1
	}
	out := new(big.Int).Mul(amountOut, big.NewInt(int64(MaxSlippageBps-slippageBps)))
	return out.Quo(out, big.NewInt(MaxSlippageBps))
}

// HumanAmountIn returns AmountIn in TokenIn human units.
func (q *Quote) HumanAmountIn() decimal.Decimal {
	return q.TokenIn.FromUnits(q.AmountIn)
}

// HumanAmountOut returns AmountOut in TokenOut human units.
func (q *Quote) HumanAmountOut() decimal.Decimal {
	return q.TokenOut.FromUnits(q.AmountOut)
}

// PriceFor returns the quoted price of the traded asset in quote-currency units.
// For a buy the asset is TokenOut (price = in/out), for a sell it is TokenIn (price = out/in).
func (q *Quote) PriceFor(side Side) decimal.Decimal {
	in, out := q.HumanAmountIn(), q.HumanAmountOut()
	if side == SideSell {
		if in.IsZero() {
			return decimal.Zero
		}
		return out.Div(in)
	}
	if out.IsZero() {
		return decimal.Zero
	}
	return in.Div(out)
}
