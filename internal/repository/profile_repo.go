package repository

import (
	"context"
	"errors"

	"github.com/kindled-app/kindled/internal/db"
	"gorm.io/gorm"
)

// ProfileRepository reads the externally-owned profile feed and maintains
// the engagement counters the scoring engine consumes.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(database *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: database}
}

// Get returns the profile by id, or nil.
func (r *ProfileRepository) Get(ctx context.Context, id uint64) (*db.Profile, error) {
	var p db.Profile
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Candidates returns active profiles the viewer has not decided on yet.
// Distance filtering happens in the ranker, which knows the viewer's
// exclusion radius.
func (r *ProfileRepository) Candidates(ctx context.Context, viewerID uint64, limit int) ([]db.Profile, error) {
	var profiles []db.Profile
	err := r.db.WithContext(ctx).
		Table("profiles p").
		Where("p.id <> ? AND p.active = ?", viewerID, true).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM decisions d
				WHERE d.actor_id = ?
				  AND d.target_id = p.id
				  AND d.active = ?
			)`, viewerID, true).
		Order("p.last_active_at DESC").
		Limit(limit).
		Find(&profiles).Error
	return profiles, err
}

// UpdateRating stores the profile's new ELO rating.
func (r *ProfileRepository) UpdateRating(ctx context.Context, id uint64, rating float64) error {
	return r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Where("id = ?", id).
		Update("rating", rating).Error
}

// RecordLike bumps the likes counter.
func (r *ProfileRepository) RecordLike(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Where("id = ?", id).
		Update("likes_received", gorm.Expr("likes_received + 1")).Error
}

// LikedProfiles returns the profiles the actor actively liked, newest
// decisions first. Feeds the behavioral-history builder.
func (r *ProfileRepository) LikedProfiles(ctx context.Context, actorID uint64, limit int) ([]db.Profile, error) {
	var profiles []db.Profile
	err := r.db.WithContext(ctx).
		Table("profiles p").
		Joins("JOIN decisions d ON d.target_id = p.id").
		Where("d.actor_id = ? AND d.active = ? AND d.action IN ?",
			actorID, true, []string{db.ActionLike, db.ActionSuperlike}).
		Order("d.updated_at DESC").
		Limit(limit).
		Find(&profiles).Error
	return profiles, err
}

// RecordViews bumps the views counter for every profile in ids in one
// statement. Best effort from the feed path.
func (r *ProfileRepository) RecordViews(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Where("id IN ?", ids).
		Update("views_received", gorm.Expr("views_received + 1")).Error
}
