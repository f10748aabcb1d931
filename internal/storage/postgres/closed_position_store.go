package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// ClosedPositionStore implements storage.ClosedPositionStore using PostgreSQL.
type ClosedPositionStore struct {
	pool *Pool
}

// NewClosedPositionStore creates a new ClosedPositionStore.
func NewClosedPositionStore(pool *Pool) *ClosedPositionStore {
	return &ClosedPositionStore{pool: pool}
}

// Compile-time interface check
var _ storage.ClosedPositionStore = (*ClosedPositionStore)(nil)

// Insert appends a closed position and returns its ID.
func (s *ClosedPositionStore) Insert(ctx context.Context, p *domain.ClosedPosition) (id int64, err error) {
	if p == nil || p.Book == "" || p.WalletID == "" {
		return 0, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("closed_position_insert", start, err) }(time.Now())

	token, err := json.Marshal(p.Token)
	if err != nil {
		return 0, fmt.Errorf("encode token: %w", err)
	}

	query := `
		INSERT INTO closed_positions (
			book, wallet_id, token, quantity, entry_price, exit_price,
			cost_basis, proceeds, realized_pnl, realized_pnl_pct,
			opened_at, closed_at, hold_duration_ms, exit_tx_hash, shortfall
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err = s.pool.QueryRow(ctx, query,
		p.Book, p.WalletID, token, p.Quantity, p.EntryPrice, p.ExitPrice,
		p.CostBasis, p.Proceeds, p.RealizedPnL, p.RealizedPnLPct,
		p.OpenedAt, p.ClosedAt, p.HoldDuration.Milliseconds(), p.ExitTxHash, p.Shortfall,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert closed position: %w", err)
	}
	return id, nil
}

// GetByWallet retrieves closed positions ordered by closed_at ASC.
func (s *ClosedPositionStore) GetByWallet(ctx context.Context, book, walletID string) ([]*domain.ClosedPosition, error) {
	query := `
		SELECT id, book, wallet_id, token, quantity, entry_price, exit_price,
			cost_basis, proceeds, realized_pnl, realized_pnl_pct,
			opened_at, closed_at, hold_duration_ms, exit_tx_hash, shortfall
		FROM closed_positions
		WHERE book = $1 AND wallet_id = $2
		ORDER BY closed_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, book, walletID)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.ClosedPosition
	for rows.Next() {
		p, err := scanClosedPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan closed position row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closed position rows: %w", err)
	}
	return result, nil
}

func scanClosedPosition(row pgx.Row) (*domain.ClosedPosition, error) {
	var p domain.ClosedPosition
	var token []byte
	var holdMs int64

	err := row.Scan(
		&p.ID, &p.Book, &p.WalletID, &token, &p.Quantity, &p.EntryPrice, &p.ExitPrice,
		&p.CostBasis, &p.Proceeds, &p.RealizedPnL, &p.RealizedPnLPct,
		&p.OpenedAt, &p.ClosedAt, &holdMs, &p.ExitTxHash, &p.Shortfall,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(token, &p.Token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	p.HoldDuration = time.Duration(holdMs) * time.Millisecond
	p.OpenedAt = p.OpenedAt.UTC()
	p.ClosedAt = p.ClosedAt.UTC()
	return &p, nil
}
