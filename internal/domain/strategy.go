package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyKind tags the variant carried in Strategy.Params.
type StrategyKind string

// Strategy kinds
const (
	StrategyKindDCA        StrategyKind = "dca"
	StrategyKindLimitOrder StrategyKind = "limit_order"
	StrategyKindStopLoss   StrategyKind = "stop_loss"
)

// StrategyStatus is the lifecycle state of a strategy.
type StrategyStatus string

// Strategy statuses
const (
	StatusActive      StrategyStatus = "active"
	StatusCompleted   StrategyStatus = "completed"   // DCA reached its cap
	StatusExecuted    StrategyStatus = "executed"    // one-shot succeeded
	StatusFailed      StrategyStatus = "failed"      // one-shot failed
	StatusDeactivated StrategyStatus = "deactivated" // stopped manually
)

// StrategyParams is the closed set of strategy variants.
// Implemented only by *DCAParams, *LimitOrderParams and *StopLossParams.
type StrategyParams interface {
	Kind() StrategyKind
	clone() StrategyParams
}

// Strategy is a persisted automation rule plus its mutable state.
// Corresponds to strategies table.
type Strategy struct {
	ID          string
	Name        string
	WalletID    string
	Chain       string
	TokenIn     Token // quote currency for buys, asset for stop-loss sells
	TokenOut    Token
	DryRun      bool // always execute simulated
	SlippageBps int
	Active      bool
	Status      StrategyStatus
	LastRun     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Params      StrategyParams
}

// Kind returns the kind of the strategy's params, or "" if unset.
func (s *Strategy) Kind() StrategyKind {
	if s.Params == nil {
		return ""
	}
	return s.Params.Kind()
}

// Clone returns a deep copy so callers can mutate state without aliasing a store's copy.
func (s *Strategy) Clone() *Strategy {
	c := *s
	if s.LastRun != nil {
		t := *s.LastRun
		c.LastRun = &t
	}
	if s.Params != nil {
		c.Params = s.Params.clone()
	}
	return &c
}

// Deactivate marks the strategy terminal with the given status.
func (s *Strategy) Deactivate(status StrategyStatus, now time.Time) {
	s.Active = false
	s.Status = status
	s.UpdatedAt = now
}

// DCAParams buys a fixed quote-currency amount on a fixed interval.
type DCAParams struct {
	AmountPerBuy  decimal.Decimal  `json:"amount_per_buy"`
	Interval      time.Duration    `json:"interval"`
	TotalBudget   *decimal.Decimal `json:"total_budget,omitempty"`
	MaxExecutions *int             `json:"max_executions,omitempty"`

	// State
	Executions    int             `json:"executions"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	TotalAcquired decimal.Decimal `json:"total_acquired"`
}

func (*DCAParams) Kind() StrategyKind { return StrategyKindDCA }

func (p *DCAParams) clone() StrategyParams {
	c := *p
	if p.TotalBudget != nil {
		v := *p.TotalBudget
		c.TotalBudget = &v
	}
	if p.MaxExecutions != nil {
		v := *p.MaxExecutions
		c.MaxExecutions = &v
	}
	return &c
}

// LimitOrderParams fires once when the price crosses TargetPrice.
type LimitOrderParams struct {
	Side        Side            `json:"side"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Amount      decimal.Decimal `json:"amount"` // quote currency for buys, asset units for sells (0 = whole position)
}

func (*LimitOrderParams) Kind() StrategyKind { return StrategyKindLimitOrder }

func (p *LimitOrderParams) clone() StrategyParams {
	c := *p
	return &c
}

// StopLossParams sells when price falls TriggerPct below the reference.
type StopLossParams struct {
	ReferencePrice decimal.Decimal `json:"reference_price"` // raised to the high-water mark when trailing
	TriggerPct     decimal.Decimal `json:"trigger_pct"`
	Amount         decimal.Decimal `json:"amount"` // asset units; 0 = whole position
	Trailing       bool            `json:"trailing"`

	// State
	StopPrice decimal.Decimal `json:"stop_price"`
}

func (*StopLossParams) Kind() StrategyKind { return StrategyKindStopLoss }

func (p *StopLossParams) clone() StrategyParams {
	c := *p
	return &c
}

// ComputeStopPrice returns reference * (1 - pct/100).
func ComputeStopPrice(reference, pct decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return reference.Mul(hundred.Sub(pct)).Div(hundred)
}

// ErrUnknownStrategyKind is returned when decoding an unrecognized kind tag.
var ErrUnknownStrategyKind = errors.New("unknown strategy kind")

type strategyJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	WalletID    string          `json:"wallet_id"`
	Chain       string          `json:"chain"`
	TokenIn     Token           `json:"token_in"`
	TokenOut    Token           `json:"token_out"`
	DryRun      bool            `json:"dry_run"`
	SlippageBps int             `json:"slippage_bps"`
	Active      bool            `json:"active"`
	Status      StrategyStatus  `json:"status"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Kind        StrategyKind    `json:"kind"`
	Params      json.RawMessage `json:"params"`
}

// MarshalJSON encodes the strategy with a kind tag next to its params.
func (s Strategy) MarshalJSON() ([]byte, error) {
	var params json.RawMessage = []byte("null")
	if s.Params != nil {
		b, err := json.Marshal(s.Params)
		if err != nil {
			return nil, err
		}
		params = b
	}
	return json.Marshal(strategyJSON{
		ID:          s.ID,
		Name:        s.Name,
		WalletID:    s.WalletID,
		Chain:       s.Chain,
		TokenIn:     s.TokenIn,
		TokenOut:    s.TokenOut,
		DryRun:      s.DryRun,
		SlippageBps: s.SlippageBps,
		Active:      s.Active,
		Status:      s.Status,
		LastRun:     s.LastRun,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Kind:        s.Kind(),
		Params:      params,
	})
}

// UnmarshalJSON decodes a strategy, dispatching params on the kind tag.
func (s *Strategy) UnmarshalJSON(data []byte) error {
	var raw strategyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	params, err := DecodeStrategyParams(raw.Kind, raw.Params)
	if err != nil {
		return err
	}
	*s = Strategy{
		ID:          raw.ID,
		Name:        raw.Name,
		WalletID:    raw.WalletID,
		Chain:       raw.Chain,
		TokenIn:     raw.TokenIn,
		TokenOut:    raw.TokenOut,
		DryRun:      raw.DryRun,
		SlippageBps: raw.SlippageBps,
		Active:      raw.Active,
		Status:      raw.Status,
		LastRun:     raw.LastRun,
		CreatedAt:   raw.CreatedAt,
		UpdatedAt:   raw.UpdatedAt,
		Params:      params,
	}
	return nil
}

// DecodeStrategyParams decodes a params payload for the given kind.
// Used by the JSON codec and by SQL stores that keep params in a JSONB column.
func DecodeStrategyParams(kind StrategyKind, data []byte) (StrategyParams, error) {
	var p StrategyParams
	switch kind {
	case StrategyKindDCA:
		p = &DCAParams{}
	case StrategyKindLimitOrder:
		p = &LimitOrderParams{}
	case StrategyKindStopLoss:
		p = &StopLossParams{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategyKind, kind)
	}
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", kind, err)
	}
	return p, nil
}
