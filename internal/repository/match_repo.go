package repository

import (
	"context"
	"errors"

	"github.com/kindled-app/kindled/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchRepository provides data access for matches.
type MatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// CreateIfAbsent creates the match for the unordered pair {a, b} using the
// deterministic pair key, with create-if-absent semantics: a primary-key
// conflict means another writer already created it, in which case the
// canonical row is loaded and returned with created=false.
//
// This is the concurrency primitive the match detector relies on: both
// sides of a reciprocal like can race here and converge on one row.
func (r *MatchRepository) CreateIfAbsent(
	ctx context.Context,
	a, b uint64,
) (*db.Match, bool, error) {
	id, lo, hi := db.MatchKey(a, b)
	m := db.Match{ID: id, UserLoID: lo, UserHiID: hi, Active: true}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&m)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &m, true, nil
	}

	// Lost the race: load the winner's row.
	var existing db.Match
	if err := r.db.WithContext(ctx).First(&existing, "id = ?", id).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// Get returns the match by id, or nil if absent.
func (r *MatchRepository) Get(ctx context.Context, id string) (*db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListForUser returns the user's active matches, newest first.
func (r *MatchRepository) ListForUser(ctx context.Context, userID uint64) ([]db.Match, error) {
	var matches []db.Match
	err := r.db.WithContext(ctx).
		Where("(user_lo_id = ? OR user_hi_id = ?) AND active = ?", userID, userID, true).
		Order("created_at DESC").
		Find(&matches).Error
	return matches, err
}

// Deactivate flips the match inactive (unmatch/block). Idempotent.
func (r *MatchRepository) Deactivate(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ?", id).
		Update("active", false).Error
}
