package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const tradeColumns = `
	id, intent_id, wallet_id, strategy_id, trade_type,
	token_in_symbol, token_in_address, token_out_symbol, token_out_address,
	amount_in, amount_out, price, notional,
	tx_hash, gas_used, gas_price, network, status, dry_run, error, metadata,
	created_at, executed_at`

// Insert adds a new trade. Returns ErrDuplicateKey if intent_id exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) (id int64, err error) {
	if t == nil || t.IntentID == "" || t.WalletID == "" {
		return 0, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("trade_insert", start, err) }(time.Now())

	query := `
		INSERT INTO trades (
			intent_id, wallet_id, strategy_id, trade_type,
			token_in_symbol, token_in_address, token_out_symbol, token_out_address,
			amount_in, amount_out, price, notional,
			tx_hash, gas_used, gas_price, network, status, dry_run, error, metadata,
			created_at, executed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22
		)
		RETURNING id
	`

	err = s.pool.QueryRow(ctx, query,
		t.IntentID, t.WalletID, t.StrategyID, string(t.TradeType),
		t.TokenInSymbol, t.TokenInAddress, t.TokenOutSymbol, t.TokenOutAddress,
		t.AmountIn, t.AmountOut, t.Price, t.Notional,
		t.TxHash, int64(t.GasUsed), t.GasPrice, t.Network, string(t.Status), t.DryRun, t.Error, nullJSON(t.Metadata),
		t.CreatedAt, t.ExecutedAt,
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return id, nil
}

// UpdateStatus moves a pending trade to a terminal status.
func (s *TradeRecordStore) UpdateStatus(ctx context.Context, id int64, u *domain.TradeUpdate) (err error) {
	if u == nil || !u.Status.Terminal() {
		return storage.ErrInvalidTransition
	}
	defer func(start time.Time) { observe("trade_update", start, err) }(time.Now())

	query := `
		UPDATE trades SET
			status      = $2,
			tx_hash     = CASE WHEN $3::text = '' THEN tx_hash ELSE $3::text END,
			amount_in   = COALESCE($4::numeric, amount_in),
			amount_out  = COALESCE($5::numeric, amount_out),
			price       = COALESCE($6::numeric, price),
			notional    = COALESCE($7::numeric, notional),
			gas_used    = CASE WHEN $8::bigint = 0 THEN gas_used ELSE $8::bigint END,
			gas_price   = COALESCE($9::numeric, gas_price),
			error       = $10,
			executed_at = $11
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := s.pool.Exec(ctx, query,
		id, string(u.Status), u.TxHash,
		u.AmountIn, u.AmountOut, u.Price, u.Notional,
		int64(u.GasUsed), u.GasPrice, u.Error, u.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing trade from one that is already terminal.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check trade exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrInvalidTransition
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, id int64) (*domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByIntentID retrieves a trade by its intent ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByIntentID(ctx context.Context, intentID string) (*domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE intent_id = $1`, intentID)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by intent id: %w", err)
	}
	return t, nil
}

// Query returns matching trades ordered by created_at DESC.
func (s *TradeRecordStore) Query(ctx context.Context, f domain.TradeFilter) (trades []*domain.TradeRecord, err error) {
	defer func(start time.Time) { observe("trade_query", start, err) }(time.Now())

	where, args := tradeWhere(f)
	args = append(args, f.EffectiveLimit())
	query := fmt.Sprintf(`SELECT %s FROM trades%s ORDER BY created_at DESC, id DESC LIMIT $%d`, tradeColumns, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// Stats aggregates matching trades in the database.
func (s *TradeRecordStore) Stats(ctx context.Context, f domain.TradeFilter) (stats *domain.TradeStats, err error) {
	defer func(start time.Time) { observe("trade_stats", start, err) }(time.Now())

	where, args := tradeWhere(f)
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'success'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE dry_run),
			count(*) FILTER (WHERE NOT dry_run),
			COALESCE(sum(notional) FILTER (WHERE status = 'success'), 0)
		FROM trades` + where

	var st domain.TradeStats
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&st.Total, &st.Successful, &st.Failed, &st.Pending,
		&st.DryRunCount, &st.LiveCount, &st.TotalVolume,
	)
	if err != nil {
		return nil, fmt.Errorf("trade stats: %w", err)
	}
	st.SuccessRate = domain.SuccessRate(st.Successful, st.Total)
	return &st, nil
}

// tradeWhere builds the WHERE clause for a filter (limit excluded).
func tradeWhere(f domain.TradeFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.WalletID != "" {
		add("wallet_id = $%d", f.WalletID)
	}
	if f.StrategyID != "" {
		add("strategy_id = $%d", f.StrategyID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.DryRun != nil {
		add("dry_run = $%d", *f.DryRun)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// scanTradeRecord scans a single row into a TradeRecord.
func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var tradeType, status string
	var gasUsed int64

	err := row.Scan(
		&t.ID, &t.IntentID, &t.WalletID, &t.StrategyID, &tradeType,
		&t.TokenInSymbol, &t.TokenInAddress, &t.TokenOutSymbol, &t.TokenOutAddress,
		&t.AmountIn, &t.AmountOut, &t.Price, &t.Notional,
		&t.TxHash, &gasUsed, &t.GasPrice, &t.Network, &status, &t.DryRun, &t.Error, &t.Metadata,
		&t.CreatedAt, &t.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TradeType = domain.Side(tradeType)
	t.Status = domain.TradeStatus(status)
	t.GasUsed = uint64(gasUsed)
	t.CreatedAt = t.CreatedAt.UTC()
	if t.ExecutedAt != nil {
		at := t.ExecutedAt.UTC()
		t.ExecutedAt = &at
	}
	return &t, nil
}

// scanTradeRecords scans multiple rows into a slice of TradeRecord.
func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord

	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
