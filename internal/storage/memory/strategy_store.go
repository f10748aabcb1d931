package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// StrategyStore is an in-memory implementation of storage.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Strategy // keyed by id
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		data: make(map[string]*domain.Strategy),
	}
}

// Insert adds a new strategy. Returns ErrDuplicateKey if id exists.
func (s *StrategyStore) Insert(_ context.Context, st *domain.Strategy) error {
	if st == nil || st.ID == "" || st.Params == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[st.ID] = st.Clone()
	return nil
}

// Update replaces an existing strategy. Returns ErrNotFound if not exists.
func (s *StrategyStore) Update(_ context.Context, st *domain.Strategy) error {
	if st == nil || st.ID == "" || st.Params == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[st.ID] = st.Clone()
	return nil
}

// GetByID retrieves a strategy. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(_ context.Context, id string) (*domain.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

// List returns strategies, optionally filtered by wallet, ordered by created_at ASC.
func (s *StrategyStore) List(_ context.Context, walletID string) ([]*domain.Strategy, error) {
	return s.collect(func(st *domain.Strategy) bool {
		return walletID == "" || st.WalletID == walletID
	}), nil
}

// ListActive returns active strategies ordered by created_at ASC.
func (s *StrategyStore) ListActive(_ context.Context) ([]*domain.Strategy, error) {
	return s.collect(func(st *domain.Strategy) bool { return st.Active }), nil
}

// SetActive flips the active flag and status.
func (s *StrategyStore) SetActive(_ context.Context, id string, active bool, status domain.StrategyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	st.Active = active
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *StrategyStore) collect(keep func(*domain.Strategy) bool) []*domain.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Strategy
	for _, st := range s.data {
		if keep(st) {
			result = append(result, st.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Compile-time interface check
var _ storage.StrategyStore = (*StrategyStore)(nil)
