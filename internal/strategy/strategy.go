// Package strategy evaluates automation rules (DCA, limit orders,
// stop-losses) and turns the ones that fire into swap intents.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/pricefeed"
)

// Strategy is one rule bound to its persisted state.
type Strategy interface {
	// Config returns the strategy the rule reads and mutates.
	Config() *domain.Strategy

	// Evaluate decides whether the rule fires at now. It may update state
	// (e.g. a trailing reference) without firing.
	Evaluate(ctx context.Context, now time.Time, prices pricefeed.Feed) (*Signal, error)

	// Record applies the outcome of a fired signal to the state.
	Record(res *domain.SwapResult, now time.Time)

	// Dirty reports whether Evaluate or Record changed the state.
	Dirty() bool
}

// Signal is an order produced by a firing rule.
type Signal struct {
	Side   domain.Side
	Amount decimal.Decimal // human units of the token spent; zero on a sell closes the position
	Slot   int64           // firing slot, part of the intent id
	Price  decimal.Decimal // price that triggered the rule, zero for DCA
	Reason string
}

type base struct {
	s     *domain.Strategy
	dirty bool
}

func (b *base) Config() *domain.Strategy { return b.s }
func (b *base) Dirty() bool              { return b.dirty }

func (b *base) touch(now time.Time) {
	b.s.UpdatedAt = now
	b.dirty = true
}

// finishOneShot deactivates a one-shot rule after its single execution.
func (b *base) finishOneShot(res *domain.SwapResult, now time.Time) {
	last := now
	b.s.LastRun = &last
	status := domain.StatusFailed
	// A duplicate means this slot already executed.
	if res.Success || res.ErrorKind == domain.ErrorKindDuplicate {
		status = domain.StatusExecuted
	}
	b.s.Deactivate(status, now)
	b.dirty = true
}

// assetPrice returns the price of the token the strategy trades against
// the quote currency.
func assetPrice(ctx context.Context, prices pricefeed.Feed, s *domain.Strategy, side domain.Side) (decimal.Decimal, error) {
	asset := s.TokenOut
	if side == domain.SideSell {
		asset = s.TokenIn
	}
	return prices.CurrentPrice(ctx, asset)
}
