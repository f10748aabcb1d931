package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Decision is one entry of an externally produced trade batch.
type Decision struct {
	Token  string          `json:"token"`  // symbol resolved against the configured token list
	Action Side            `json:"action"` // buy | sell
	Amount decimal.Decimal `json:"amount"` // quote currency for buys, asset units for sells (0 = whole position)
	Reason string          `json:"reason,omitempty"`
}

// Decision validation errors
var (
	ErrDecisionToken  = errors.New("decision token is required")
	ErrDecisionAction = errors.New("decision action must be buy or sell")
	ErrDecisionAmount = errors.New("decision amount must be positive for buys and non-negative for sells")
)

// Validate checks a decision before it is turned into an intent.
func (d *Decision) Validate() error {
	if d.Token == "" {
		return ErrDecisionToken
	}
	if !d.Action.Valid() {
		return ErrDecisionAction
	}
	if d.Amount.IsNegative() || (d.Action == SideBuy && !d.Amount.IsPositive()) {
		return ErrDecisionAmount
	}
	return nil
}
