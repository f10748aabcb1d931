package memory

import (
	"context"
	"sort"
	"sync"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// ClosedPositionStore is an in-memory implementation of storage.ClosedPositionStore.
type ClosedPositionStore struct {
	mu     sync.RWMutex
	nextID int64
	data   []*domain.ClosedPosition
}

// NewClosedPositionStore creates a new in-memory closed position store.
func NewClosedPositionStore() *ClosedPositionStore {
	return &ClosedPositionStore{}
}

// Insert appends a closed position.
func (s *ClosedPositionStore) Insert(_ context.Context, p *domain.ClosedPosition) (int64, error) {
	if p == nil || p.WalletID == "" || p.Book == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	copy := *p
	copy.ID = s.nextID
	s.data = append(s.data, &copy)
	return copy.ID, nil
}

// GetByWallet retrieves closed positions of a wallet, ordered by closed_at ASC.
func (s *ClosedPositionStore) GetByWallet(_ context.Context, book, walletID string) ([]*domain.ClosedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ClosedPosition
	for _, p := range s.data {
		if p.Book == book && p.WalletID == walletID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ClosedAt.Before(result[j].ClosedAt)
	})
	return result, nil
}

// Compile-time interface check
var _ storage.ClosedPositionStore = (*ClosedPositionStore)(nil)
