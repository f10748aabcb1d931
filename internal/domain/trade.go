package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

// Trade statuses
const (
	TradeStatusPending TradeStatus = "pending"
	TradeStatusSuccess TradeStatus = "success"
	TradeStatusFailed  TradeStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusSuccess || s == TradeStatusFailed
}

// DefaultTradeQueryLimit is used when a TradeFilter has no limit.
const DefaultTradeQueryLimit = 50

// TradeRecord is the append-mostly audit row for one executed intent.
// Corresponds to trades table.
type TradeRecord struct {
	ID              int64           `json:"id"`
	IntentID        string          `json:"intent_id"`
	WalletID        string          `json:"wallet_id"`
	StrategyID      string          `json:"strategy_id,omitempty"`
	TradeType       Side            `json:"trade_type"`
	TokenInSymbol   string          `json:"token_in_symbol"`
	TokenInAddress  string          `json:"token_in_address"`
	TokenOutSymbol  string          `json:"token_out_symbol"`
	TokenOutAddress string          `json:"token_out_address"`
	AmountIn        decimal.Decimal `json:"amount_in"`  // human units of token in
	AmountOut       decimal.Decimal `json:"amount_out"` // human units of token out
	Price           decimal.Decimal `json:"price"`
	Notional        decimal.Decimal `json:"notional"` // quote-currency value of the trade
	TxHash          string          `json:"tx_hash,omitempty"`
	GasUsed         uint64          `json:"gas_used,omitempty"`
	GasPrice        decimal.Decimal `json:"gas_price"` // wei
	Network         string          `json:"network"`
	Status          TradeStatus     `json:"status"`
	DryRun          bool            `json:"dry_run"`
	Error           string          `json:"error,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
}

// TradeUpdate carries the fields that may change on the pending -> terminal transition.
type TradeUpdate struct {
	Status     TradeStatus
	TxHash     string
	AmountIn   *decimal.Decimal // nil keeps the stored value; set when a sell-all resolves its size
	AmountOut  *decimal.Decimal
	Price      *decimal.Decimal
	Notional   *decimal.Decimal
	GasUsed    uint64
	GasPrice   *decimal.Decimal
	Error      string
	ExecutedAt time.Time
}

// Apply copies the update onto rec.
func (u *TradeUpdate) Apply(rec *TradeRecord) {
	rec.Status = u.Status
	if u.TxHash != "" {
		rec.TxHash = u.TxHash
	}
	if u.AmountIn != nil {
		rec.AmountIn = *u.AmountIn
	}
	if u.AmountOut != nil {
		rec.AmountOut = *u.AmountOut
	}
	if u.Price != nil {
		rec.Price = *u.Price
	}
	if u.Notional != nil {
		rec.Notional = *u.Notional
	}
	if u.GasUsed != 0 {
		rec.GasUsed = u.GasUsed
	}
	if u.GasPrice != nil {
		rec.GasPrice = *u.GasPrice
	}
	rec.Error = u.Error
	executed := u.ExecutedAt
	rec.ExecutedAt = &executed
}

// TradeFilter selects trade records. Zero fields match everything.
type TradeFilter struct {
	WalletID   string
	StrategyID string
	Status     TradeStatus
	DryRun     *bool
	Limit      int
}

// EffectiveLimit returns the limit with the default applied.
func (f TradeFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultTradeQueryLimit
	}
	return f.Limit
}

// Matches reports whether rec satisfies the filter (limit excluded).
func (f TradeFilter) Matches(rec *TradeRecord) bool {
	if f.WalletID != "" && rec.WalletID != f.WalletID {
		return false
	}
	if f.StrategyID != "" && rec.StrategyID != f.StrategyID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.DryRun != nil && rec.DryRun != *f.DryRun {
		return false
	}
	return true
}

// TradeStats aggregates trade records.
type TradeStats struct {
	Total       int             `json:"total"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Pending     int             `json:"pending"`
	DryRunCount int             `json:"dry_run_count"`
	LiveCount   int             `json:"live_count"`
	SuccessRate float64         `json:"success_rate"` // percent of total
	TotalVolume decimal.Decimal `json:"total_volume"` // notional of successful trades
}

// ComputeTradeStats aggregates records in memory.
// Failed counts only status=failed; pending records are reported separately.
func ComputeTradeStats(records []*TradeRecord) TradeStats {
	stats := TradeStats{TotalVolume: decimal.Zero}
	for _, r := range records {
		stats.Total++
		switch r.Status {
		case TradeStatusSuccess:
			stats.Successful++
			stats.TotalVolume = stats.TotalVolume.Add(r.Notional)
		case TradeStatusFailed:
			stats.Failed++
		case TradeStatusPending:
			stats.Pending++
		}
		if r.DryRun {
			stats.DryRunCount++
		} else {
			stats.LiveCount++
		}
	}
	stats.SuccessRate = SuccessRate(stats.Successful, stats.Total)
	return stats
}

// SuccessRate returns successful/total as a percentage, 0 when total is 0.
func SuccessRate(successful, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}
