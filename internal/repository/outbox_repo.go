package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kindled-app/kindled/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository is the durable store for pending sends. It is the single
// source of truth: entries survive restarts and are removed only on
// confirmed delivery.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(database *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: database}
}

// Enqueue stages an outbound message. Re-enqueueing the same local id is a
// no-op, so a retried send path cannot duplicate an entry.
func (r *OutboxRepository) Enqueue(ctx context.Context, e *db.OutboxEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e).Error
}

// Due returns entries ready for a delivery attempt, oldest first. Per-match
// FIFO is preserved by the created_at ordering; the worker additionally
// skips a match for the rest of a cycle once one of its entries fails.
func (r *OutboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]db.OutboxEntry, error) {
	var entries []db.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_retry_at <= ?",
			[]string{db.OutboxPending, db.OutboxFailedRetryable}, now).
		Order("created_at ASC, local_id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Get returns the entry by local id, or nil.
func (r *OutboxRepository) Get(ctx context.Context, localID string) (*db.OutboxEntry, error) {
	var e db.OutboxEntry
	err := r.db.WithContext(ctx).First(&e, "local_id = ?", localID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkSending claims the entry for an attempt.
func (r *OutboxRepository) MarkSending(ctx context.Context, localID string) error {
	return r.db.WithContext(ctx).
		Model(&db.OutboxEntry{}).
		Where("local_id = ?", localID).
		Updates(map[string]interface{}{
			"status":   db.OutboxSending,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

// ConfirmDelivered removes the entry: delivery is confirmed, the confirmed
// message row now owns the local id.
func (r *OutboxRepository) ConfirmDelivered(ctx context.Context, localID string) error {
	return r.db.WithContext(ctx).
		Delete(&db.OutboxEntry{}, "local_id = ?", localID).Error
}

// MarkRetryable schedules the next attempt.
func (r *OutboxRepository) MarkRetryable(ctx context.Context, localID string, nextRetryAt time.Time, cause string) error {
	return r.db.WithContext(ctx).
		Model(&db.OutboxEntry{}).
		Where("local_id = ?", localID).
		Updates(map[string]interface{}{
			"status":        db.OutboxFailedRetryable,
			"next_retry_at": nextRetryAt,
			"last_error":    cause,
		}).Error
}

// MarkPermanent parks the entry after retries are exhausted. The entry is
// kept so the conversation can still show it as failed with a manual-retry
// affordance.
func (r *OutboxRepository) MarkPermanent(ctx context.Context, localID string, cause string) error {
	return r.db.WithContext(ctx).
		Model(&db.OutboxEntry{}).
		Where("local_id = ?", localID).
		Updates(map[string]interface{}{
			"status":     db.OutboxFailedPermanent,
			"last_error": cause,
		}).Error
}

// Requeue re-arms a permanently failed entry after an explicit user retry.
func (r *OutboxRepository) Requeue(ctx context.Context, localID string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.OutboxEntry{}).
		Where("local_id = ? AND status = ?", localID, db.OutboxFailedPermanent).
		Updates(map[string]interface{}{
			"status":        db.OutboxPending,
			"attempts":      0,
			"next_retry_at": now,
		}).Error
}

// RearmStale resets entries stuck in "sending" from a previous process
// (crash mid-attempt) back to pending. Called once at worker start.
func (r *OutboxRepository) RearmStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.OutboxEntry{}).
		Where("status = ? AND updated_at < ?", db.OutboxSending, olderThan).
		Update("status", db.OutboxPending)
	return res.RowsAffected, res.Error
}

// ListForMatch returns the match's staged entries in FIFO order.
func (r *OutboxRepository) ListForMatch(ctx context.Context, matchID string) ([]db.OutboxEntry, error) {
	var entries []db.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("created_at ASC, local_id ASC").
		Find(&entries).Error
	return entries, err
}
