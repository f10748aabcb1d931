package storage

import (
	"context"
	"io"
	"log"

	"swap-engine/internal/domain"
)

// MirroredClosedPositions writes to a primary store and copies each row
// to an analytics mirror. Reads come from the primary only.
type MirroredClosedPositions struct {
	primary ClosedPositionStore
	mirror  ClosedPositionStore
	logger  *log.Logger
}

// NewMirroredClosedPositions wraps primary. Mirror failures are logged, never returned.
func NewMirroredClosedPositions(primary, mirror ClosedPositionStore, logger *log.Logger) *MirroredClosedPositions {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &MirroredClosedPositions{primary: primary, mirror: mirror, logger: logger}
}

// Compile-time interface check
var _ ClosedPositionStore = (*MirroredClosedPositions)(nil)

// Insert stores p in the primary, then mirrors it under the primary's id.
func (m *MirroredClosedPositions) Insert(ctx context.Context, p *domain.ClosedPosition) (int64, error) {
	id, err := m.primary.Insert(ctx, p)
	if err != nil {
		return 0, err
	}
	cp := *p
	cp.ID = id
	if _, err := m.mirror.Insert(ctx, &cp); err != nil {
		m.logger.Printf("mirror closed position %d (%s/%s): %v", id, p.Book, p.WalletID, err)
	}
	return id, nil
}

// GetByWallet reads from the primary.
func (m *MirroredClosedPositions) GetByWallet(ctx context.Context, book, walletID string) ([]*domain.ClosedPosition, error) {
	return m.primary.GetByWallet(ctx, book, walletID)
}
