package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
// Cash lives in accounts; open positions live in positions.
type AccountStore struct {
	pool *Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Compile-time interface check
var _ storage.AccountStore = (*AccountStore)(nil)

// Get retrieves an account with its open positions. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(ctx context.Context, book, walletID string) (a *domain.Account, err error) {
	defer func(start time.Time) { observe("account_get", start, err) }(time.Now())

	a = domain.NewAccount(book, walletID)
	err = s.pool.QueryRow(ctx,
		`SELECT cash, updated_at FROM accounts WHERE book = $1 AND wallet_id = $2`,
		book, walletID,
	).Scan(&a.Cash, &a.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.UpdatedAt = a.UpdatedAt.UTC()

	rows, err := s.pool.Query(ctx, `
		SELECT token, quantity, avg_entry_price, cost_basis, entries,
			stop_loss_price, take_profit_prices, opened_at, updated_at
		FROM positions
		WHERE book = $1 AND wallet_id = $2
	`, book, walletID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		p.WalletID = walletID
		a.Positions[p.Token.Key()] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return a, nil
}

// Save replaces the account cash and its open positions in one transaction.
func (s *AccountStore) Save(ctx context.Context, a *domain.Account) (err error) {
	if a == nil || a.Book == "" || a.WalletID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("account_save", start, err) }(time.Now())

	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	batch := &pgx.Batch{}
	for key, p := range a.Positions {
		token, err := json.Marshal(p.Token)
		if err != nil {
			return fmt.Errorf("encode token: %w", err)
		}
		var takeProfits []byte
		if len(p.TakeProfitPrices) > 0 {
			if takeProfits, err = json.Marshal(p.TakeProfitPrices); err != nil {
				return fmt.Errorf("encode take profits: %w", err)
			}
		}
		batch.Queue(`
			INSERT INTO positions (
				book, wallet_id, token_key, token, quantity, avg_entry_price, cost_basis,
				entries, stop_loss_price, take_profit_prices, opened_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, a.Book, a.WalletID, key, token, p.Quantity, p.AvgEntryPrice, p.CostBasis,
			p.Entries, p.StopLossPrice, nullJSON(takeProfits), p.OpenedAt, p.UpdatedAt)
	}

	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (book, wallet_id, cash, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (book, wallet_id) DO UPDATE SET cash = EXCLUDED.cash, updated_at = EXCLUDED.updated_at
		`, a.Book, a.WalletID, a.Cash, updatedAt)
		if err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE book = $1 AND wallet_id = $2`, a.Book, a.WalletID); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert positions: %w", err)
			}
		}
		return nil
	})
}

// ListWallets returns wallet IDs with an account in the book, sorted.
func (s *AccountStore) ListWallets(ctx context.Context, book string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT wallet_id FROM accounts WHERE book = $1 ORDER BY wallet_id`, book)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return wallets, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var token, takeProfits []byte
	var stopLoss decimal.NullDecimal

	err := row.Scan(
		&token, &p.Quantity, &p.AvgEntryPrice, &p.CostBasis, &p.Entries,
		&stopLoss, &takeProfits, &p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(token, &p.Token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if stopLoss.Valid {
		v := stopLoss.Decimal
		p.StopLossPrice = &v
	}
	if len(takeProfits) > 0 {
		if err := json.Unmarshal(takeProfits, &p.TakeProfitPrices); err != nil {
			return nil, fmt.Errorf("decode take profits: %w", err)
		}
	}
	p.OpenedAt = p.OpenedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
