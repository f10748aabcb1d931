package memory

import (
	"context"
	"sort"
	"sync"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Account // keyed by book|wallet
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		data: make(map[string]*domain.Account),
	}
}

func accountKey(book, walletID string) string {
	return book + "|" + walletID
}

// Get retrieves an account. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, book, walletID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[accountKey(book, walletID)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// Save replaces the account.
func (s *AccountStore) Save(_ context.Context, a *domain.Account) error {
	if a == nil || a.Book == "" || a.WalletID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[accountKey(a.Book, a.WalletID)] = a.Clone()
	return nil
}

// ListWallets returns wallet IDs with an account in the book, sorted.
func (s *AccountStore) ListWallets(_ context.Context, book string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wallets []string
	for _, a := range s.data {
		if a.Book == book {
			wallets = append(wallets, a.WalletID)
		}
	}
	sort.Strings(wallets)
	return wallets, nil
}

// Compile-time interface check
var _ storage.AccountStore = (*AccountStore)(nil)
