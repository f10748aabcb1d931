// Package ledger tracks cash, open positions and realized P&L per wallet.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"swap-engine/internal/domain"
	"swap-engine/internal/lock"
	"swap-engine/internal/storage"
)

// Ledger errors
var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no open position")
	ErrInvalidAmount    = errors.New("amounts and price must be positive")
	ErrMissingWallet    = errors.New("wallet id is required")
	ErrOversold         = errors.New("fill exceeds open position")
)

// PriceSource marks positions to market.
type PriceSource interface {
	CurrentPrice(ctx context.Context, token domain.Token) (decimal.Decimal, error)
}

// Options configures a Ledger.
type Options struct {
	Book           string // domain.BookPaper or domain.BookLive
	Accounts       storage.AccountStore
	ClosedPosition storage.ClosedPositionStore
	Clock          func() time.Time
	Logger         *log.Logger
}

// Ledger is one independent book. All mutations of a wallet are serialized;
// different wallets never block each other.
type Ledger struct {
	book     string
	accounts storage.AccountStore
	closed   storage.ClosedPositionStore
	clock    func() time.Time
	logger   *log.Logger
	locks    *lock.Local
}

// New creates a ledger book.
func New(opts Options) *Ledger {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	book := opts.Book
	if book == "" {
		book = domain.BookPaper
	}
	return &Ledger{
		book:     book,
		accounts: opts.Accounts,
		closed:   opts.ClosedPosition,
		clock:    clock,
		logger:   logger,
		locks:    lock.NewLocal(),
	}
}

// Book returns the book name.
func (l *Ledger) Book() string {
	return l.book
}

// ApplyBuy spends cash on qty units of token at price.
// Cash is checked before anything is mutated.
func (l *Ledger) ApplyBuy(ctx context.Context, walletID string, token domain.Token, spend, qty, price decimal.Decimal) (*domain.Position, error) {
	if walletID == "" {
		return nil, ErrMissingWallet
	}
	if !spend.IsPositive() || !qty.IsPositive() || !price.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *domain.Position
	err := l.withAccount(ctx, walletID, func(acct *domain.Account) error {
		if acct.Cash.LessThan(spend) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCash, acct.Cash, spend)
		}

		now := l.clock()
		key := token.Key()
		pos, ok := acct.Positions[key]
		if !ok {
			pos = &domain.Position{
				WalletID:      walletID,
				Token:         token,
				Quantity:      decimal.Zero,
				AvgEntryPrice: decimal.Zero,
				CostBasis:     decimal.Zero,
				OpenedAt:      now,
			}
			acct.Positions[key] = pos
		}

		newQty := pos.Quantity.Add(qty)
		pos.AvgEntryPrice = pos.Quantity.Mul(pos.AvgEntryPrice).Add(qty.Mul(price)).Div(newQty)
		pos.Quantity = newQty
		pos.CostBasis = pos.CostBasis.Add(spend)
		pos.Entries++
		pos.UpdatedAt = now

		acct.Cash = acct.Cash.Sub(spend)
		result = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Printf("[%s] buy %s %s %s @ %s", l.book, walletID, qty, token, price)
	return result, nil
}

// ApplySell closes the entire position in token at price.
func (l *Ledger) ApplySell(ctx context.Context, walletID string, token domain.Token, price decimal.Decimal, txHash string) (*domain.ClosedPosition, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.closePosition(ctx, walletID, token, txHash, func(pos *domain.Position) (fill, error) {
		return fill{sold: pos.Quantity, price: price, proceeds: price.Mul(pos.Quantity)}, nil
	})
}

// ApplySellFill closes the entire position in token from an executed fill:
// sold units returned proceeds in quote currency. Booked quantity above sold
// is recorded as Shortfall and written off at zero. Cash grows by proceeds only.
func (l *Ledger) ApplySellFill(ctx context.Context, walletID string, token domain.Token, sold, proceeds decimal.Decimal, txHash string) (*domain.ClosedPosition, error) {
	if !sold.IsPositive() || !proceeds.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return l.closePosition(ctx, walletID, token, txHash, func(pos *domain.Position) (fill, error) {
		if sold.GreaterThan(pos.Quantity) {
			return fill{}, fmt.Errorf("%w: sold %s of %s %s", ErrOversold, sold, pos.Quantity, token)
		}
		return fill{sold: sold, price: proceeds.Div(sold), proceeds: proceeds}, nil
	})
}

type fill struct {
	sold     decimal.Decimal
	price    decimal.Decimal
	proceeds decimal.Decimal
}

func (l *Ledger) closePosition(ctx context.Context, walletID string, token domain.Token, txHash string, fillOf func(*domain.Position) (fill, error)) (*domain.ClosedPosition, error) {
	if walletID == "" {
		return nil, ErrMissingWallet
	}

	var closed *domain.ClosedPosition
	err := l.withAccount(ctx, walletID, func(acct *domain.Account) error {
		key := token.Key()
		pos, ok := acct.Positions[key]
		if !ok || !pos.Quantity.IsPositive() {
			return fmt.Errorf("%w: %s %s", ErrNoPosition, walletID, token)
		}
		f, err := fillOf(pos)
		if err != nil {
			return err
		}

		now := l.clock()
		avg := pos.AvgEntryPrice
		shortfall := pos.Quantity.Sub(f.sold)
		pnl := f.price.Sub(avg).Mul(f.sold).Sub(avg.Mul(shortfall))
		pct := decimal.Zero
		if avg.IsPositive() {
			if shortfall.IsZero() {
				pct = f.price.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))
			} else {
				pct = pnl.Div(avg.Mul(pos.Quantity)).Mul(decimal.NewFromInt(100))
			}
		}

		closed = &domain.ClosedPosition{
			Book:           l.book,
			WalletID:       walletID,
			Token:          pos.Token,
			Quantity:       f.sold,
			EntryPrice:     avg,
			ExitPrice:      f.price,
			CostBasis:      pos.CostBasis,
			Proceeds:       f.proceeds,
			RealizedPnL:    pnl,
			RealizedPnLPct: pct,
			OpenedAt:       pos.OpenedAt,
			ClosedAt:       now,
			HoldDuration:   now.Sub(pos.OpenedAt),
			ExitTxHash:     txHash,
			Shortfall:      shortfall,
		}

		acct.Cash = acct.Cash.Add(f.proceeds)
		delete(acct.Positions, key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The account is already saved; a failed history append must not undo the sale.
	if l.closed != nil {
		id, err := l.closed.Insert(ctx, closed)
		if err != nil {
			l.logger.Printf("[%s] WARN: append closed position %s %s: %v", l.book, walletID, token, err)
		} else {
			closed.ID = id
		}
	}

	if closed.Shortfall.IsPositive() {
		l.logger.Printf("[%s] WARN: %s %s short %s on-chain, written off", l.book, walletID, token, closed.Shortfall)
	}
	l.logger.Printf("[%s] sell %s %s %s @ %s pnl=%s", l.book, walletID, closed.Quantity, token, closed.ExitPrice, closed.RealizedPnL)
	return closed, nil
}

// Deposit adds cash to a wallet (negative amounts are rejected).
func (l *Ledger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal) error {
	if walletID == "" {
		return ErrMissingWallet
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return l.withAccount(ctx, walletID, func(acct *domain.Account) error {
		acct.Cash = acct.Cash.Add(amount)
		return nil
	})
}

// EnsureCash seeds a wallet with amount if it has no account yet.
// Returns true if the account was created.
func (l *Ledger) EnsureCash(ctx context.Context, walletID string, amount decimal.Decimal) (bool, error) {
	release, err := l.locks.Lock(ctx, walletID)
	if err != nil {
		return false, err
	}
	defer release()

	_, err = l.accounts.Get(ctx, l.book, walletID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("load account %s: %w", walletID, err)
	}

	acct := domain.NewAccount(l.book, walletID)
	acct.Cash = amount
	acct.UpdatedAt = l.clock()
	if err := l.accounts.Save(ctx, acct); err != nil {
		return false, fmt.Errorf("save account %s: %w", walletID, err)
	}
	return true, nil
}

// Cash returns the wallet's cash balance (zero for unknown wallets).
func (l *Ledger) Cash(ctx context.Context, walletID string) (decimal.Decimal, error) {
	acct, err := l.load(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Cash, nil
}

// Position returns the open position in token. Returns ErrNoPosition if none.
func (l *Ledger) Position(ctx context.Context, walletID string, token domain.Token) (*domain.Position, error) {
	acct, err := l.load(ctx, walletID)
	if err != nil {
		return nil, err
	}
	pos, ok := acct.Positions[token.Key()]
	if !ok {
		return nil, ErrNoPosition
	}
	return pos, nil
}

// Positions returns open positions ordered by token key.
func (l *Ledger) Positions(ctx context.Context, walletID string) ([]*domain.Position, error) {
	acct, err := l.load(ctx, walletID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Position, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Key() < out[j].Token.Key() })
	return out, nil
}

// ProtectedPositions returns every open position in the book that carries a
// stop-loss or take-profit level, ordered by wallet then token.
func (l *Ledger) ProtectedPositions(ctx context.Context) ([]*domain.Position, error) {
	wallets, err := l.accounts.ListWallets(ctx, l.book)
	if err != nil {
		return nil, fmt.Errorf("list %s wallets: %w", l.book, err)
	}
	sort.Strings(wallets)

	var out []*domain.Position
	for _, w := range wallets {
		positions, err := l.Positions(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, p := range positions {
			if p.Protected() && p.Quantity.IsPositive() {
				p.WalletID = w
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// ClosedPositions returns the wallet's closed positions in this book.
func (l *Ledger) ClosedPositions(ctx context.Context, walletID string) ([]*domain.ClosedPosition, error) {
	if l.closed == nil {
		return nil, nil
	}
	return l.closed.GetByWallet(ctx, l.book, walletID)
}

// SetProtection sets stop-loss and take-profit levels on an open position.
// A nil stopLoss clears it.
func (l *Ledger) SetProtection(ctx context.Context, walletID string, token domain.Token, stopLoss *decimal.Decimal, takeProfits []decimal.Decimal) error {
	return l.withAccount(ctx, walletID, func(acct *domain.Account) error {
		pos, ok := acct.Positions[token.Key()]
		if !ok {
			return ErrNoPosition
		}
		if stopLoss != nil {
			v := *stopLoss
			pos.StopLossPrice = &v
		} else {
			pos.StopLossPrice = nil
		}
		pos.TakeProfitPrices = append([]decimal.Decimal(nil), takeProfits...)
		// UpdatedAt seeds protective sell ids; it must move on every change.
		now := l.clock()
		if !now.After(pos.UpdatedAt.Add(time.Microsecond)) {
			now = pos.UpdatedAt.Add(time.Microsecond)
		}
		pos.UpdatedAt = now
		return nil
	})
}

// Valuation is a mark-to-market snapshot of a wallet.
type Valuation struct {
	Cash          decimal.Decimal            `json:"cash"`
	PositionValue decimal.Decimal            `json:"position_value"`
	Total         decimal.Decimal            `json:"total"`
	Marks         map[string]decimal.Decimal `json:"marks"` // token key -> price
}

// PortfolioValue returns cash + Σ quantity × mark.
func (l *Ledger) PortfolioValue(ctx context.Context, walletID string, feed PriceSource) (*Valuation, error) {
	acct, err := l.load(ctx, walletID)
	if err != nil {
		return nil, err
	}

	v := &Valuation{
		Cash:          acct.Cash,
		PositionValue: decimal.Zero,
		Marks:         make(map[string]decimal.Decimal, len(acct.Positions)),
	}
	for key, pos := range acct.Positions {
		mark, err := feed.CurrentPrice(ctx, pos.Token)
		if err != nil {
			return nil, fmt.Errorf("mark %s: %w", pos.Token, err)
		}
		v.Marks[key] = mark
		v.PositionValue = v.PositionValue.Add(pos.MarketValue(mark))
	}
	v.Total = v.Cash.Add(v.PositionValue)
	return v, nil
}

// withAccount runs fn on the wallet's account under the wallet lock and
// saves it only if fn succeeds.
func (l *Ledger) withAccount(ctx context.Context, walletID string, fn func(*domain.Account) error) error {
	release, err := l.locks.Lock(ctx, walletID)
	if err != nil {
		return err
	}
	defer release()

	acct, err := l.load(ctx, walletID)
	if err != nil {
		return err
	}
	if err := fn(acct); err != nil {
		return err
	}
	if acct.Cash.IsNegative() {
		return fmt.Errorf("%w: cash would go negative", ErrInsufficientCash)
	}
	acct.UpdatedAt = l.clock()
	if err := l.accounts.Save(ctx, acct); err != nil {
		return fmt.Errorf("save account %s: %w", walletID, err)
	}
	return nil
}

func (l *Ledger) load(ctx context.Context, walletID string) (*domain.Account, error) {
	acct, err := l.accounts.Get(ctx, l.book, walletID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NewAccount(l.book, walletID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", walletID, err)
	}
	if acct.Positions == nil {
		acct.Positions = make(map[string]*domain.Position)
	}
	return acct, nil
}
