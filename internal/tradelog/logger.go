// Package tradelog keeps the audit trail of executed intents and announces
// status changes on the event bus.
package tradelog

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"swap-engine/internal/domain"
	"swap-engine/internal/observability"
	"swap-engine/internal/pubsub"
	"swap-engine/internal/storage"
)

// Event subjects
const (
	SubjectPending = "trades.pending"
	SubjectSuccess = "trades.success"
	SubjectFailed  = "trades.failed"
)

// SubjectFor returns the subject a trade in status s is published on.
func SubjectFor(s domain.TradeStatus) string {
	switch s {
	case domain.TradeStatusSuccess:
		return SubjectSuccess
	case domain.TradeStatusFailed:
		return SubjectFailed
	default:
		return SubjectPending
	}
}

// Options configures a Logger.
type Options struct {
	Store     storage.TradeRecordStore
	Publisher pubsub.Publisher // defaults to pubsub.Noop
	Clock     func() time.Time
	Logger    *log.Logger
}

// Logger writes trade records and publishes their lifecycle events.
type Logger struct {
	store     storage.TradeRecordStore
	publisher pubsub.Publisher
	clock     func() time.Time
	logger    *log.Logger
}

// New creates a Logger.
func New(opts Options) *Logger {
	l := &Logger{
		store:     opts.Store,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if l.publisher == nil {
		l.publisher = pubsub.Noop{}
	}
	if l.clock == nil {
		l.clock = func() time.Time { return time.Now().UTC() }
	}
	if l.logger == nil {
		l.logger = log.New(io.Discard, "", 0)
	}
	return l
}

// Append stores rec as pending and returns its id.
// Returns storage.ErrDuplicateKey when the intent was already logged.
func (l *Logger) Append(ctx context.Context, rec *domain.TradeRecord) (int64, error) {
	if rec == nil {
		return 0, storage.ErrInvalidInput
	}
	r := *rec
	r.Status = domain.TradeStatusPending
	r.Error = ""
	r.ExecutedAt = nil
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.clock()
	}

	id, err := l.store.Insert(ctx, &r)
	if err != nil {
		return 0, fmt.Errorf("append trade %s: %w", r.IntentID, err)
	}
	r.ID = id
	observability.RecordTradeLogged(string(r.Status))
	l.publish(ctx, &r)
	return id, nil
}

// UpdateStatus moves trade id from pending to success or failed.
func (l *Logger) UpdateStatus(ctx context.Context, id int64, u *domain.TradeUpdate) error {
	if u == nil || !u.Status.Terminal() {
		return storage.ErrInvalidTransition
	}
	upd := *u
	if upd.ExecutedAt.IsZero() {
		upd.ExecutedAt = l.clock()
	}
	if err := l.store.UpdateStatus(ctx, id, &upd); err != nil {
		return fmt.Errorf("update trade %d: %w", id, err)
	}
	observability.RecordTradeLogged(string(upd.Status))

	rec, err := l.store.GetByID(ctx, id)
	if err != nil {
		l.logger.Printf("trade %d updated but could not be reloaded for publish: %v", id, err)
		return nil
	}
	l.publish(ctx, rec)
	return nil
}

// Get returns a trade by id.
func (l *Logger) Get(ctx context.Context, id int64) (*domain.TradeRecord, error) {
	return l.store.GetByID(ctx, id)
}

// GetByIntent returns the trade logged for an intent.
func (l *Logger) GetByIntent(ctx context.Context, intentID string) (*domain.TradeRecord, error) {
	return l.store.GetByIntentID(ctx, intentID)
}

// Query returns trades newest first.
func (l *Logger) Query(ctx context.Context, f domain.TradeFilter) ([]*domain.TradeRecord, error) {
	return l.store.Query(ctx, f)
}

// Stats aggregates trades matching f.
func (l *Logger) Stats(ctx context.Context, f domain.TradeFilter) (*domain.TradeStats, error) {
	return l.store.Stats(ctx, f)
}

// publish never fails the write; bus errors are only logged.
func (l *Logger) publish(ctx context.Context, rec *domain.TradeRecord) {
	if err := l.publisher.Publish(ctx, SubjectFor(rec.Status), rec); err != nil {
		observability.RecordPublishFailure()
		l.logger.Printf("publish trade %d (%s): %v", rec.ID, rec.Status, err)
	}
}
