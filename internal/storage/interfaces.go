package storage

import (
	"context"

	"swap-engine/internal/domain"
)

// TradeRecordStore provides access to trades storage.
type TradeRecordStore interface {
	// Insert adds a new trade and returns its assigned ID.
	// Returns ErrDuplicateKey if intent_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) (int64, error)

	// UpdateStatus moves a pending trade to success or failed.
	// Returns ErrNotFound if the trade does not exist and ErrInvalidTransition
	// if it is not pending or the target status is not terminal.
	UpdateStatus(ctx context.Context, id int64, u *domain.TradeUpdate) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.TradeRecord, error)

	// GetByIntentID retrieves a trade by its intent ID. Returns ErrNotFound if not exists.
	GetByIntentID(ctx context.Context, intentID string) (*domain.TradeRecord, error)

	// Query returns trades matching the filter, ordered by created_at DESC.
	Query(ctx context.Context, f domain.TradeFilter) ([]*domain.TradeRecord, error)

	// Stats aggregates trades matching the filter (limit ignored).
	Stats(ctx context.Context, f domain.TradeFilter) (*domain.TradeStats, error)
}

// ClosedPositionStore provides access to closed_positions storage.
type ClosedPositionStore interface {
	// Insert appends a closed position and returns its assigned ID.
	Insert(ctx context.Context, p *domain.ClosedPosition) (int64, error)

	// GetByWallet retrieves closed positions of a wallet in a book, ordered by closed_at ASC.
	GetByWallet(ctx context.Context, book, walletID string) ([]*domain.ClosedPosition, error)
}

// AccountStore provides access to accounts and positions storage.
type AccountStore interface {
	// Get retrieves an account with its open positions. Returns ErrNotFound if not exists.
	Get(ctx context.Context, book, walletID string) (*domain.Account, error)

	// Save replaces the account cash and its full set of open positions.
	Save(ctx context.Context, a *domain.Account) error

	// ListWallets returns the wallet IDs that have an account in the book.
	ListWallets(ctx context.Context, book string) ([]string, error)
}

// StrategyStore provides access to strategies storage.
type StrategyStore interface {
	// Insert adds a new strategy. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.Strategy) error

	// Update replaces the mutable fields of an existing strategy. Returns ErrNotFound if not exists.
	Update(ctx context.Context, s *domain.Strategy) error

	// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Strategy, error)

	// List returns all strategies, optionally only those of a wallet, ordered by created_at ASC.
	List(ctx context.Context, walletID string) ([]*domain.Strategy, error)

	// ListActive returns active strategies ordered by created_at ASC.
	ListActive(ctx context.Context) ([]*domain.Strategy, error)

	// SetActive flips the active flag and status. Returns ErrNotFound if not exists.
	SetActive(ctx context.Context, id string, active bool, status domain.StrategyStatus) error
}
