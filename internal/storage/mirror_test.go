package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-engine/internal/domain"
	"swap-engine/internal/storage"
	"swap-engine/internal/storage/memory"
)

type failingStore struct{ calls int }

func (f *failingStore) Insert(context.Context, *domain.ClosedPosition) (int64, error) {
	f.calls++
	return 0, errors.New("mirror down")
}

func (f *failingStore) GetByWallet(context.Context, string, string) ([]*domain.ClosedPosition, error) {
	return nil, errors.New("mirror down")
}

func TestMirroredClosedPositions_CopiesPrimaryID(t *testing.T) {
	primary := memory.NewClosedPositionStore()
	mirror := memory.NewClosedPositionStore()
	m := storage.NewMirroredClosedPositions(primary, mirror, nil)
	ctx := context.Background()

	id, err := m.Insert(ctx, &domain.ClosedPosition{Book: domain.BookPaper, WalletID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	mirrored, err := mirror.GetByWallet(ctx, domain.BookPaper, "w1")
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
}

func TestMirroredClosedPositions_MirrorFailureIsIgnored(t *testing.T) {
	primary := memory.NewClosedPositionStore()
	mirror := &failingStore{}
	m := storage.NewMirroredClosedPositions(primary, mirror, nil)
	ctx := context.Background()

	_, err := m.Insert(ctx, &domain.ClosedPosition{Book: domain.BookLive, WalletID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, 1, mirror.calls)

	got, err := m.GetByWallet(ctx, domain.BookLive, "w1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = m.Insert(ctx, &domain.ClosedPosition{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.Equal(t, 1, mirror.calls, "mirror skipped when primary rejects")
}
