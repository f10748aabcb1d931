package strategy

import (
	"errors"
	"fmt"

	"swap-engine/internal/domain"
)

// Factory errors
var (
	ErrMissingParams         = errors.New("strategy params are required")
	ErrMissingWallet         = errors.New("strategy requires a wallet")
	ErrInvalidPair           = errors.New("strategy tokens must differ and be on the strategy chain")
	ErrInvalidSlippage       = errors.New("slippage bps must be in [0, 10000)")
	ErrInvalidAmountPerBuy   = errors.New("DCA requires a positive AmountPerBuy")
	ErrInvalidInterval       = errors.New("DCA requires a positive Interval")
	ErrInvalidBudget         = errors.New("DCA TotalBudget must be at least AmountPerBuy")
	ErrInvalidMaxExecutions  = errors.New("DCA MaxExecutions must be positive")
	ErrInvalidSide           = errors.New("LIMIT_ORDER requires side buy or sell")
	ErrInvalidTargetPrice    = errors.New("LIMIT_ORDER requires a positive TargetPrice")
	ErrInvalidOrderAmount    = errors.New("amount must be positive for buys and non-negative for sells")
	ErrInvalidReferencePrice = errors.New("STOP_LOSS requires a positive ReferencePrice")
	ErrInvalidTriggerPct     = errors.New("STOP_LOSS TriggerPct must be in (0, 100)")
)

// FromConfig creates a Strategy from a persisted domain.Strategy.
// Validates required parameters per strategy kind.
func FromConfig(s *domain.Strategy) (Strategy, error) {
	if s == nil || s.Params == nil {
		return nil, ErrMissingParams
	}
	if err := validateCommon(s); err != nil {
		return nil, err
	}

	switch p := s.Params.(type) {
	case *domain.DCAParams:
		return fromDCAConfig(s, p)
	case *domain.LimitOrderParams:
		return fromLimitOrderConfig(s, p)
	case *domain.StopLossParams:
		return fromStopLossConfig(s, p)
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownStrategyKind, s.Params)
	}
}

func validateCommon(s *domain.Strategy) error {
	if s.WalletID == "" {
		return ErrMissingWallet
	}
	if err := s.TokenIn.Validate(); err != nil {
		return err
	}
	if err := s.TokenOut.Validate(); err != nil {
		return err
	}
	if s.TokenIn.Equal(s.TokenOut) || s.TokenIn.Chain != s.Chain || s.TokenOut.Chain != s.Chain {
		return ErrInvalidPair
	}
	if s.SlippageBps < 0 || s.SlippageBps >= domain.MaxSlippageBps {
		return ErrInvalidSlippage
	}
	return nil
}

// fromDCAConfig creates a DCA strategy from config.
func fromDCAConfig(s *domain.Strategy, p *domain.DCAParams) (*DCA, error) {
	if !p.AmountPerBuy.IsPositive() {
		return nil, ErrInvalidAmountPerBuy
	}
	if p.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if p.TotalBudget != nil && p.TotalBudget.LessThan(p.AmountPerBuy) {
		return nil, ErrInvalidBudget
	}
	if p.MaxExecutions != nil && *p.MaxExecutions <= 0 {
		return nil, ErrInvalidMaxExecutions
	}
	return &DCA{base: base{s: s}, p: p}, nil
}

// fromLimitOrderConfig creates a limit order from config.
func fromLimitOrderConfig(s *domain.Strategy, p *domain.LimitOrderParams) (*LimitOrder, error) {
	if !p.Side.Valid() {
		return nil, ErrInvalidSide
	}
	if !p.TargetPrice.IsPositive() {
		return nil, ErrInvalidTargetPrice
	}
	if p.Amount.IsNegative() || (p.Side == domain.SideBuy && !p.Amount.IsPositive()) {
		return nil, ErrInvalidOrderAmount
	}
	return &LimitOrder{base: base{s: s}, p: p}, nil
}

// fromStopLossConfig creates a stop-loss from config.
func fromStopLossConfig(s *domain.Strategy, p *domain.StopLossParams) (*StopLoss, error) {
	if !p.ReferencePrice.IsPositive() {
		return nil, ErrInvalidReferencePrice
	}
	if !p.TriggerPct.IsPositive() || p.TriggerPct.GreaterThanOrEqual(hundred) {
		return nil, ErrInvalidTriggerPct
	}
	if p.Amount.IsNegative() {
		return nil, ErrInvalidOrderAmount
	}
	return &StopLoss{base: base{s: s}, p: p}, nil
}
