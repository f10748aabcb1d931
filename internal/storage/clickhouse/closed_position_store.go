package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
	"swap-engine/internal/storage"
)

// chRows abstracts driver.Rows for testability.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// ClosedPositionStore implements storage.ClosedPositionStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by the primary store's id, so
// re-mirroring the same row is harmless.
type ClosedPositionStore struct {
	conn *Conn
}

// NewClosedPositionStore creates a new ClosedPositionStore.
func NewClosedPositionStore(conn *Conn) *ClosedPositionStore {
	return &ClosedPositionStore{conn: conn}
}

// Compile-time interface check
var _ storage.ClosedPositionStore = (*ClosedPositionStore)(nil)

// Insert appends a closed position. A zero ID is replaced by a time-derived one.
func (s *ClosedPositionStore) Insert(ctx context.Context, p *domain.ClosedPosition) (int64, error) {
	if p == nil || p.Book == "" || p.WalletID == "" {
		return 0, storage.ErrInvalidInput
	}
	start := time.Now()

	id := p.ID
	if id == 0 {
		id = start.UnixNano()
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO closed_positions (
			id, book, wallet_id, chain, token_symbol, token_address, token_decimals,
			quantity, entry_price, exit_price, cost_basis, proceeds,
			realized_pnl, realized_pnl_pct, opened_at, closed_at, hold_duration_ms, exit_tx_hash, shortfall
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		id, p.Book, p.WalletID, p.Token.Chain, p.Token.Symbol, p.Token.Address, uint8(p.Token.Decimals),
		p.Quantity, p.EntryPrice, p.ExitPrice, p.CostBasis, p.Proceeds,
		p.RealizedPnL, p.RealizedPnLPct, p.OpenedAt, p.ClosedAt, p.HoldDuration.Milliseconds(), p.ExitTxHash, p.Shortfall,
	)
	if err != nil {
		return 0, fmt.Errorf("append to batch: %w", err)
	}

	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "closed_position_insert", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}
	return id, nil
}

// GetByWallet retrieves closed positions ordered by closed_at ASC.
func (s *ClosedPositionStore) GetByWallet(ctx context.Context, book, walletID string) ([]*domain.ClosedPosition, error) {
	query := `
		SELECT id, book, wallet_id, chain, token_symbol, token_address, token_decimals,
			quantity, entry_price, exit_price, cost_basis, proceeds,
			realized_pnl, realized_pnl_pct, opened_at, closed_at, hold_duration_ms, exit_tx_hash, shortfall
		FROM closed_positions FINAL
		WHERE book = ? AND wallet_id = ?
		ORDER BY closed_at ASC, id ASC
	`
	rows, err := s.conn.Query(ctx, query, book, walletID)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	return scanClosedPositions(rows)
}

// PnLSummary aggregates realized results of one wallet in one book.
type PnLSummary struct {
	Book        string          `json:"book"`
	WalletID    string          `json:"wallet_id"`
	Closed      uint64          `json:"closed"`
	Wins        uint64          `json:"wins"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Proceeds    decimal.Decimal `json:"proceeds"`
}

// WinRate returns wins/closed as a percentage.
func (p *PnLSummary) WinRate() float64 {
	return domain.SuccessRate(int(p.Wins), int(p.Closed))
}

// Summary aggregates realized P&L per wallet for the book.
func (s *ClosedPositionStore) Summary(ctx context.Context, book string) ([]*PnLSummary, error) {
	query := `
		SELECT wallet_id, count(), countIf(realized_pnl > 0), sum(realized_pnl), sum(proceeds)
		FROM closed_positions FINAL
		WHERE book = ?
		GROUP BY wallet_id
		ORDER BY wallet_id
	`
	rows, err := s.conn.Query(ctx, query, book)
	if err != nil {
		return nil, fmt.Errorf("query pnl summary: %w", err)
	}
	defer rows.Close()

	var result []*PnLSummary
	for rows.Next() {
		sum := PnLSummary{Book: book}
		if err := rows.Scan(&sum.WalletID, &sum.Closed, &sum.Wins, &sum.RealizedPnL, &sum.Proceeds); err != nil {
			return nil, fmt.Errorf("scan pnl summary: %w", err)
		}
		result = append(result, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pnl summary: %w", err)
	}
	return result, nil
}

func scanClosedPositions(rows chRows) ([]*domain.ClosedPosition, error) {
	var result []*domain.ClosedPosition

	for rows.Next() {
		var p domain.ClosedPosition
		var decimals uint8
		var holdMs int64

		err := rows.Scan(
			&p.ID, &p.Book, &p.WalletID, &p.Token.Chain, &p.Token.Symbol, &p.Token.Address, &decimals,
			&p.Quantity, &p.EntryPrice, &p.ExitPrice, &p.CostBasis, &p.Proceeds,
			&p.RealizedPnL, &p.RealizedPnLPct, &p.OpenedAt, &p.ClosedAt, &holdMs, &p.ExitTxHash, &p.Shortfall,
		)
		if err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		p.Token.Decimals = int32(decimals)
		p.HoldDuration = time.Duration(holdMs) * time.Millisecond
		p.OpenedAt = p.OpenedAt.UTC()
		p.ClosedAt = p.ClosedAt.UTC()
		result = append(result, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closed positions: %w", err)
	}

	return result, nil
}
