package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/pricefeed"
)

var hundred = decimal.NewFromInt(100)

// StopLoss sells TokenIn when the price falls TriggerPct below the
// reference. When trailing, the reference follows new highs and is never
// lowered.
//
//   - stop = reference * (1 - trigger_pct/100)
//   - on each tick: raise reference to price if trailing and price > reference
//   - fire when price <= stop
type StopLoss struct {
	base
	p *domain.StopLossParams
}

// Evaluate ratchets the reference and checks the stop.
func (s *StopLoss) Evaluate(ctx context.Context, now time.Time, prices pricefeed.Feed) (*Signal, error) {
	price, err := assetPrice(ctx, prices, s.s, domain.SideSell)
	if err != nil {
		return nil, err
	}

	if s.p.Trailing && price.GreaterThan(s.p.ReferencePrice) {
		s.p.ReferencePrice = price
		s.touch(now)
	}
	stop := domain.ComputeStopPrice(s.p.ReferencePrice, s.p.TriggerPct)
	if !stop.Equal(s.p.StopPrice) {
		s.p.StopPrice = stop
		s.touch(now)
	}

	if price.GreaterThan(stop) {
		return nil, nil
	}
	return &Signal{
		Side:   domain.SideSell,
		Amount: s.p.Amount,
		Price:  price,
		Reason: fmt.Sprintf("price %s at or below stop %s", price, stop),
	}, nil
}

// Record makes the stop terminal.
func (s *StopLoss) Record(res *domain.SwapResult, now time.Time) {
	s.finishOneShot(res, now)
}

var _ Strategy = (*StopLoss)(nil)
