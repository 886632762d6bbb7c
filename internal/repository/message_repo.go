package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kindled-app/kindled/internal/db"
	"gorm.io/gorm"
)

// MessageRepository provides data access for conversation messages.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(database *gorm.DB) *MessageRepository {
	return &MessageRepository{db: database}
}

// Append stores msg with the next per-match ordering key. The unique
// (match_id, seq) index backstops the allocation: if two writers pick the
// same seq, the loser retries with a fresh one.
//
// Requires gorm's TranslateError so a unique violation surfaces as
// gorm.ErrDuplicatedKey on both MySQL and SQLite.
func (r *MessageRepository) Append(ctx context.Context, msg *db.Message) error {
	const maxRetries = 3

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq uint64
			row := tx.Model(&db.Message{}).
				Where("match_id = ?", msg.MatchID).
				Select("COALESCE(MAX(seq), 0)")
			if err := row.Scan(&maxSeq).Error; err != nil {
				return err
			}
			msg.Seq = maxSeq + 1
			return tx.Create(msg).Error
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return lastErr
}

// PageBefore returns up to limit messages of the match strictly older than
// beforeSeq, newest first. beforeSeq == 0 means "latest page".
func (r *MessageRepository) PageBefore(
	ctx context.Context,
	matchID string,
	beforeSeq uint64,
	limit int,
) ([]db.Message, error) {
	query := r.db.WithContext(ctx).
		Where("match_id = ?", matchID)
	if beforeSeq > 0 {
		query = query.Where("seq < ?", beforeSeq)
	}

	var messages []db.Message
	err := query.Order("seq DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

// After returns messages of the match with seq strictly greater than
// afterSeq, oldest first. Used to replay the live tail past the high-water
// mark.
func (r *MessageRepository) After(
	ctx context.Context,
	matchID string,
	afterSeq uint64,
) ([]db.Message, error) {
	var messages []db.Message
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND seq > ?", matchID, afterSeq).
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// MaxSeq returns the current high-water ordering key for the match.
func (r *MessageRepository) MaxSeq(ctx context.Context, matchID string) (uint64, error) {
	var maxSeq uint64
	err := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("match_id = ?", matchID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

// MarkRead stamps every unread message addressed to reader in the match,
// in one batch. Returns how many rows were updated.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	matchID string,
	readerID uint64,
	at time.Time,
) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("match_id = ? AND receiver_id = ? AND read_at IS NULL", matchID, readerID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

// MarkDelivered stamps the delivery timestamp once. Idempotent.
func (r *MessageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
}

// UnreadCount returns the user's unread total across all matches.
func (r *MessageRepository) UnreadCount(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("receiver_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

// GetByLocalID returns the confirmed message carrying the echoed client
// local id, or nil. Used for optimistic-entry reconciliation.
func (r *MessageRepository) GetByLocalID(ctx context.Context, matchID, localID string) (*db.Message, error) {
	var m db.Message
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND local_id = ?", matchID, localID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
