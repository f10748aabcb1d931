// Package sqlite implements a single-node trade log on SQLite (modernc, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
	"swap-engine/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore on a SQLite file.
type TradeRecordStore struct {
	db *sql.DB
}

// Compile-time interface check
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*TradeRecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &TradeRecordStore{db: db}, nil
}

// Close closes the database.
func (s *TradeRecordStore) Close() error {
	return s.db.Close()
}

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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			intent_id, wallet_id, strategy_id, trade_type,
			token_in_symbol, token_in_address, token_out_symbol, token_out_address,
			amount_in, amount_out, price, notional,
			tx_hash, gas_used, gas_price, network, status, dry_run, error, metadata,
			created_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.IntentID, t.WalletID, t.StrategyID, string(t.TradeType),
		t.TokenInSymbol, t.TokenInAddress, t.TokenOutSymbol, t.TokenOutAddress,
		t.AmountIn.String(), t.AmountOut.String(), t.Price.String(), t.Notional.String(),
		t.TxHash, int64(t.GasUsed), t.GasPrice.String(), t.Network, string(t.Status), t.DryRun, t.Error, []byte(t.Metadata),
		t.CreatedAt.UnixNano(), nanos(t.ExecutedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert trade: %w", err)
	}
	return res.LastInsertId()
}

// UpdateStatus moves a pending trade to a terminal status.
func (s *TradeRecordStore) UpdateStatus(ctx context.Context, id int64, u *domain.TradeUpdate) (err error) {
	if u == nil || !u.Status.Terminal() {
		return storage.ErrInvalidTransition
	}
	defer func(start time.Time) { observe("trade_update", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec, err := scanTrade(tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load trade: %w", err)
	}
	if rec.Status != domain.TradeStatusPending {
		return storage.ErrInvalidTransition
	}
	u.Apply(rec)

	_, err = tx.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, tx_hash = ?, amount_in = ?, amount_out = ?, price = ?, notional = ?,
			gas_used = ?, gas_price = ?, error = ?, executed_at = ?
		WHERE id = ?`,
		string(rec.Status), rec.TxHash, rec.AmountIn.String(), rec.AmountOut.String(),
		rec.Price.String(), rec.Notional.String(), int64(rec.GasUsed), rec.GasPrice.String(),
		rec.Error, nanos(rec.ExecutedAt), id,
	)
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	return tx.Commit()
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, id int64) (*domain.TradeRecord, error) {
	return s.getOne(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
}

// GetByIntentID retrieves a trade by its intent ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByIntentID(ctx context.Context, intentID string) (*domain.TradeRecord, error) {
	return s.getOne(ctx, `SELECT `+tradeColumns+` FROM trades WHERE intent_id = ?`, intentID)
}

func (s *TradeRecordStore) getOne(ctx context.Context, query string, arg interface{}) (*domain.TradeRecord, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// Query returns matching trades ordered by created_at DESC.
func (s *TradeRecordStore) Query(ctx context.Context, f domain.TradeFilter) (trades []*domain.TradeRecord, err error) {
	defer func(start time.Time) { observe("trade_query", start, err) }(time.Now())

	where, args := tradeWhere(f)
	args = append(args, f.EffectiveLimit())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades`+where+` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Stats aggregates matching trades. Volume is summed in Go to keep decimal precision.
func (s *TradeRecordStore) Stats(ctx context.Context, f domain.TradeFilter) (*domain.TradeStats, error) {
	where, args := tradeWhere(f)
	rows, err := s.db.QueryContext(ctx, `SELECT status, dry_run, notional FROM trades`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("trade stats: %w", err)
	}
	defer rows.Close()

	var records []*domain.TradeRecord
	for rows.Next() {
		var r domain.TradeRecord
		var status string
		if err := rows.Scan(&status, &r.DryRun, &r.Notional); err != nil {
			return nil, fmt.Errorf("scan trade stats row: %w", err)
		}
		r.Status = domain.TradeStatus(status)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats := domain.ComputeTradeStats(records)
	return &stats, nil
}

func tradeWhere(f domain.TradeFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.WalletID != "" {
		conds, args = append(conds, "wallet_id = ?"), append(args, f.WalletID)
	}
	if f.StrategyID != "" {
		conds, args = append(conds, "strategy_id = ?"), append(args, f.StrategyID)
	}
	if f.Status != "" {
		conds, args = append(conds, "status = ?"), append(args, string(f.Status))
	}
	if f.DryRun != nil {
		conds, args = append(conds, "dry_run = ?"), append(args, *f.DryRun)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var tradeType, status string
	var gasUsed, createdAt int64
	var executedAt sql.NullInt64
	var metadata []byte

	err := row.Scan(
		&t.ID, &t.IntentID, &t.WalletID, &t.StrategyID, &tradeType,
		&t.TokenInSymbol, &t.TokenInAddress, &t.TokenOutSymbol, &t.TokenOutAddress,
		&t.AmountIn, &t.AmountOut, &t.Price, &t.Notional,
		&t.TxHash, &gasUsed, &t.GasPrice, &t.Network, &status, &t.DryRun, &t.Error, &metadata,
		&createdAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TradeType = domain.Side(tradeType)
	t.Status = domain.TradeStatus(status)
	t.GasUsed = uint64(gasUsed)
	if len(metadata) > 0 {
		t.Metadata = metadata
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	if executedAt.Valid {
		at := time.Unix(0, executedAt.Int64).UTC()
		t.ExecutedAt = &at
	}
	return &t, nil
}

func nanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func observe(op string, start time.Time, err error) {
	observability.RecordDBQuery("sqlite", op, time.Since(start).Seconds(), err)
}
