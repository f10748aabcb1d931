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

// StrategyStore implements storage.StrategyStore using PostgreSQL.
// Kind-specific params and their state are kept in a JSONB column.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check
var _ storage.StrategyStore = (*StrategyStore)(nil)

const strategyColumns = `
	id, name, wallet_id, chain, token_in, token_out, dry_run, slippage_bps,
	active, status, kind, params, last_run, created_at, updated_at`

type strategyRow struct {
	tokenIn, tokenOut, params []byte
}

func encodeStrategy(st *domain.Strategy) (*strategyRow, error) {
	var r strategyRow
	var err error
	if r.tokenIn, err = json.Marshal(st.TokenIn); err != nil {
		return nil, fmt.Errorf("encode token in: %w", err)
	}
	if r.tokenOut, err = json.Marshal(st.TokenOut); err != nil {
		return nil, fmt.Errorf("encode token out: %w", err)
	}
	if r.params, err = json.Marshal(st.Params); err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return &r, nil
}

// Insert adds a new strategy. Returns ErrDuplicateKey if id exists.
func (s *StrategyStore) Insert(ctx context.Context, st *domain.Strategy) (err error) {
	if st == nil || st.ID == "" || st.Params == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("strategy_insert", start, err) }(time.Now())

	r, err := encodeStrategy(st)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (`+strategyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, st.ID, st.Name, st.WalletID, st.Chain, r.tokenIn, r.tokenOut, st.DryRun, st.SlippageBps,
		st.Active, string(st.Status), string(st.Kind()), r.params, st.LastRun, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of an existing strategy.
func (s *StrategyStore) Update(ctx context.Context, st *domain.Strategy) (err error) {
	if st == nil || st.ID == "" || st.Params == nil {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("strategy_update", start, err) }(time.Now())

	r, err := encodeStrategy(st)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET
			name = $2, token_in = $3, token_out = $4, dry_run = $5, slippage_bps = $6,
			active = $7, status = $8, params = $9, last_run = $10, updated_at = $11
		WHERE id = $1
	`, st.ID, st.Name, r.tokenIn, r.tokenOut, st.DryRun, st.SlippageBps,
		st.Active, string(st.Status), r.params, st.LastRun, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update strategy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (*domain.Strategy, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	return st, nil
}

// List returns strategies, optionally of one wallet, ordered by created_at ASC.
func (s *StrategyStore) List(ctx context.Context, walletID string) ([]*domain.Strategy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+strategyColumns+` FROM strategies
		WHERE $1 = '' OR wallet_id = $1
		ORDER BY created_at ASC, id ASC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()
	return scanStrategies(rows)
}

// ListActive returns active strategies ordered by created_at ASC.
func (s *StrategyStore) ListActive(ctx context.Context) (list []*domain.Strategy, err error) {
	defer func(start time.Time) { observe("strategy_list_active", start, err) }(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+strategyColumns+` FROM strategies
		WHERE active
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list active strategies: %w", err)
	}
	defer rows.Close()
	return scanStrategies(rows)
}

// SetActive flips the active flag and status. Returns ErrNotFound if not exists.
func (s *StrategyStore) SetActive(ctx context.Context, id string, active bool, status domain.StrategyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE strategies SET active = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, active, string(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set strategy active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanStrategy(row pgx.Row) (*domain.Strategy, error) {
	var st domain.Strategy
	var tokenIn, tokenOut, params []byte
	var status, kind string

	err := row.Scan(
		&st.ID, &st.Name, &st.WalletID, &st.Chain, &tokenIn, &tokenOut, &st.DryRun, &st.SlippageBps,
		&st.Active, &status, &kind, &params, &st.LastRun, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokenIn, &st.TokenIn); err != nil {
		return nil, fmt.Errorf("decode token in: %w", err)
	}
	if err := json.Unmarshal(tokenOut, &st.TokenOut); err != nil {
		return nil, fmt.Errorf("decode token out: %w", err)
	}
	st.Params, err = domain.DecodeStrategyParams(domain.StrategyKind(kind), params)
	if err != nil {
		return nil, err
	}
	st.Status = domain.StrategyStatus(status)
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	if st.LastRun != nil {
		t := st.LastRun.UTC()
		st.LastRun = &t
	}
	return &st, nil
}

func scanStrategies(rows pgx.Rows) ([]*domain.Strategy, error) {
	var result []*domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy row: %w", err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy rows: %w", err)
	}
	return result, nil
}
