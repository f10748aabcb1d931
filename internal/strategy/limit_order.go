package strategy

import (
	"context"
	"fmt"
	"time"

	"swap-engine/internal/domain"
	"swap-engine/internal/pricefeed"
)

// LimitOrder fires once when the price crosses TargetPrice: a buy at or
// below the target, a sell at or above it.
type LimitOrder struct {
	base
	p *domain.LimitOrderParams
}

// Evaluate checks the current price against the target.
func (l *LimitOrder) Evaluate(ctx context.Context, _ time.Time, prices pricefeed.Feed) (*Signal, error) {
	price, err := assetPrice(ctx, prices, l.s, l.p.Side)
	if err != nil {
		return nil, err
	}

	crossed := price.LessThanOrEqual(l.p.TargetPrice)
	if l.p.Side == domain.SideSell {
		crossed = price.GreaterThanOrEqual(l.p.TargetPrice)
	}
	if !crossed {
		return nil, nil
	}

	return &Signal{
		Side:   l.p.Side,
		Amount: l.p.Amount,
		Price:  price,
		Reason: fmt.Sprintf("price %s crossed target %s", price, l.p.TargetPrice),
	}, nil
}

// Record deactivates the order; it never retries.
func (l *LimitOrder) Record(res *domain.SwapResult, now time.Time) {
	l.finishOneShot(res, now)
}

var _ Strategy = (*LimitOrder)(nil)
