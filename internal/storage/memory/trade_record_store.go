package memory

import (
	"context"
	"sort"
	"sync"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
)

// TradeRecordStore is an in-memory implementation of storage.TradeRecordStore.
type TradeRecordStore struct {
	mu       sync.RWMutex
	nextID   int64
	data     map[int64]*domain.TradeRecord // keyed by id
	byIntent map[string]int64
}

// NewTradeRecordStore creates a new in-memory trade record store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		data:     make(map[int64]*domain.TradeRecord),
		byIntent: make(map[string]int64),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if intent_id exists.
func (s *TradeRecordStore) Insert(_ context.Context, t *domain.TradeRecord) (int64, error) {
	if t == nil || t.IntentID == "" || t.WalletID == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byIntent[t.IntentID]; exists {
		return 0, storage.ErrDuplicateKey
	}

	s.nextID++
	copy := *t
	copy.ID = s.nextID
	s.data[copy.ID] = &copy
	s.byIntent[t.IntentID] = copy.ID
	return copy.ID, nil
}

// UpdateStatus moves a pending trade to a terminal status.
func (s *TradeRecordStore) UpdateStatus(_ context.Context, id int64, u *domain.TradeUpdate) error {
	if u == nil || !u.Status.Terminal() {
		return storage.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if t.Status != domain.TradeStatusPending {
		return storage.ErrInvalidTransition
	}

	u.Apply(t)
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(_ context.Context, id int64) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *t
	return &copy, nil
}

// GetByIntentID retrieves a trade by its intent ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByIntentID(ctx context.Context, intentID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	id, exists := s.byIntent[intentID]
	s.mu.RUnlock()
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// Query returns matching trades ordered by created_at DESC (id DESC on ties).
func (s *TradeRecordStore) Query(_ context.Context, f domain.TradeFilter) ([]*domain.TradeRecord, error) {
	result := s.matching(f)

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit := f.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats aggregates matching trades.
func (s *TradeRecordStore) Stats(_ context.Context, f domain.TradeFilter) (*domain.TradeStats, error) {
	stats := domain.ComputeTradeStats(s.matching(f))
	return &stats, nil
}

func (s *TradeRecordStore) matching(f domain.TradeFilter) []*domain.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, t := range s.data {
		if f.Matches(t) {
			copy := *t
			result = append(result, &copy)
		}
	}
	return result
}

// Compile-time interface check
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)
