package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger books
const (
	BookPaper = "paper" // simulated execution
	BookLive  = "live"  // on-chain execution
)

// BookFor returns the ledger book an execution mode writes to.
func BookFor(mode ExecutionMode) string {
	if mode == ModeLive {
		return BookLive
	}
	return BookPaper
}

// Position is an open per-wallet, per-token exposure.
type Position struct {
	WalletID         string            `json:"wallet_id"`
	Token            Token             `json:"token"`
	Quantity         decimal.Decimal   `json:"quantity"`        // human units held
	AvgEntryPrice    decimal.Decimal   `json:"avg_entry_price"` // weighted average, quote currency
	CostBasis        decimal.Decimal   `json:"cost_basis"`      // total quote currency spent
	Entries          int               `json:"entries"`         // number of buys into the position
	StopLossPrice    *decimal.Decimal  `json:"stop_loss_price,omitempty"`
	TakeProfitPrices []decimal.Decimal `json:"take_profit_prices,omitempty"`
	OpenedAt         time.Time         `json:"opened_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	if p.StopLossPrice != nil {
		v := *p.StopLossPrice
		c.StopLossPrice = &v
	}
	if p.TakeProfitPrices != nil {
		c.TakeProfitPrices = append([]decimal.Decimal(nil), p.TakeProfitPrices...)
	}
	return &c
}

// MarketValue returns quantity * mark.
func (p *Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(mark)
}

// UnrealizedPnL returns the mark-to-market profit of the position.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AvgEntryPrice).Mul(p.Quantity)
}

// Protected reports whether the position carries a stop-loss or take-profit level.
func (p *Position) Protected() bool {
	return p.StopLossPrice != nil || len(p.TakeProfitPrices) > 0
}

// ProtectionHit reports whether price breaches the stop-loss or reaches the
// lowest take-profit level. The stop-loss is checked first.
func (p *Position) ProtectionHit(price decimal.Decimal) (string, bool) {
	if p.StopLossPrice != nil && price.LessThanOrEqual(*p.StopLossPrice) {
		return fmt.Sprintf("stop loss: price %s at or below %s", price, p.StopLossPrice), true
	}
	var lowest *decimal.Decimal
	for i := range p.TakeProfitPrices {
		if lowest == nil || p.TakeProfitPrices[i].LessThan(*lowest) {
			lowest = &p.TakeProfitPrices[i]
		}
	}
	if lowest != nil && price.GreaterThanOrEqual(*lowest) {
		return fmt.Sprintf("take profit: price %s at or above %s", price, lowest), true
	}
	return "", false
}

// ClosedPosition is the historical record of a fully sold position.
// Corresponds to closed_positions table.
type ClosedPosition struct {
	ID             int64           `json:"id"` // assigned by the store
	Book           string          `json:"book"`
	WalletID       string          `json:"wallet_id"`
	Token          Token           `json:"token"`
	Quantity       decimal.Decimal `json:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	Proceeds       decimal.Decimal `json:"proceeds"`         // exit_price * quantity
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`     // (exit - entry) * quantity
	RealizedPnLPct decimal.Decimal `json:"realized_pnl_pct"` // (exit - entry) / entry * 100
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at"`
	HoldDuration   time.Duration   `json:"hold_duration"`
	ExitTxHash     string          `json:"exit_tx_hash,omitempty"`
	Shortfall      decimal.Decimal `json:"shortfall"` // booked quantity missing on-chain, written off at zero
}

// Account is the cash balance and open positions of one wallet in one book.
type Account struct {
	Book      string               `json:"book"`
	WalletID  string               `json:"wallet_id"`
	Cash      decimal.Decimal      `json:"cash"`
	Positions map[string]*Position `json:"positions"` // keyed by Token.Key()
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewAccount creates an empty account.
func NewAccount(book, walletID string) *Account {
	return &Account{
		Book:      book,
		WalletID:  walletID,
		Cash:      decimal.Zero,
		Positions: make(map[string]*Position),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]*Position, len(a.Positions))
	for k, p := range a.Positions {
		c.Positions[k] = p.Clone()
	}
	return &c
}
