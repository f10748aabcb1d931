package executor

import (
	"context"

	"swap-engine/internal/domain"
)

// executeSimulated fills the intent at the quoted output without touching the chain.
func (e *Executor) executeSimulated(ctx context.Context, r *run) *domain.SwapResult {
	in := r.intent
	q, err := e.quotes.GetQuote(ctx, in.Chain, in.TokenIn, in.TokenOut, r.amountIn)
	if err != nil {
		return e.fail(in, quoteKind(err), err)
	}

	res := &domain.SwapResult{
		IntentID:   in.ID,
		Mode:       in.Mode,
		Side:       in.Side,
		AmountOut:  q.AmountOut,
		Provider:   q.Provider,
		ExecutedAt: e.clock(),
	}
	return e.settle(ctx, r, res, q)
}
