package strategy

import (
	"context"
	"time"

	"swap-engine/internal/domain"
	"swap-engine/internal/pricefeed"
)

// DCA buys AmountPerBuy of TokenIn worth of TokenOut every Interval until
// its budget or execution cap is reached.
type DCA struct {
	base
	p *domain.DCAParams
}

// Evaluate fires when the strategy never ran or Interval has elapsed since
// the last run.
func (d *DCA) Evaluate(_ context.Context, now time.Time, _ pricefeed.Feed) (*Signal, error) {
	if d.exhausted() {
		d.s.Deactivate(domain.StatusCompleted, now)
		d.dirty = true
		return nil, nil
	}
	if d.s.LastRun != nil && now.Sub(*d.s.LastRun) < d.p.Interval {
		return nil, nil
	}
	return &Signal{
		Side:   domain.SideBuy,
		Amount: d.p.AmountPerBuy,
		// The n-th purchase always maps to the same intent id.
		Slot:   int64(d.p.Executions),
		Reason: "dca interval elapsed",
	}, nil
}

// Record consumes the slot whether or not the swap succeeded.
func (d *DCA) Record(res *domain.SwapResult, now time.Time) {
	last := now
	d.s.LastRun = &last
	d.p.Executions++
	d.p.TotalSpent = d.p.TotalSpent.Add(d.p.AmountPerBuy)
	if res.Success && res.AmountOut != nil {
		d.p.TotalAcquired = d.p.TotalAcquired.Add(d.s.TokenOut.FromUnits(res.AmountOut))
	}
	d.touch(now)
	if d.exhausted() {
		d.s.Deactivate(domain.StatusCompleted, now)
	}
}

// exhausted reports whether another purchase would breach a cap.
func (d *DCA) exhausted() bool {
	if d.p.MaxExecutions != nil && d.p.Executions >= *d.p.MaxExecutions {
		return true
	}
	if d.p.TotalBudget != nil && d.p.TotalSpent.Add(d.p.AmountPerBuy).GreaterThan(*d.p.TotalBudget) {
		return true
	}
	return false
}

var _ Strategy = (*DCA)(nil)
