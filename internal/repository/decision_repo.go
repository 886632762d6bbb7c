package repository

import (
	"context"
	"errors"

	"github.com/kindled-app/kindled/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DecisionRepository provides data access for swipe decisions.
type DecisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository creates a new repository bound to the given DB connection.
func NewDecisionRepository(database *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: database}
}

// Upsert inserts or supersedes the decision actor -> target.
//
// Behavior:
//   - If the (actor_id, target_id) pair exists, the row is overwritten with
//     the new action; the composite PK guarantees a single row per ordered
//     pair, so supersession never duplicates.
//   - Last write wins on the server-side updated_at timestamp.
func (r *DecisionRepository) Upsert(
	ctx context.Context,
	actorID, targetID uint64,
	action string,
) error {
	decision := db.Decision{
		ActorID:  actorID,
		TargetID: targetID,
		Action:   action,
		Active:   true,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"action", "active", "updated_at"}),
		}).
		Create(&decision).Error
}

// Get returns the decision actor -> target, or nil if none exists.
func (r *DecisionRepository) Get(
	ctx context.Context,
	actorID, targetID uint64,
) (*db.Decision, error) {
	var d db.Decision
	err := r.db.WithContext(ctx).
		Where("actor_id = ? AND target_id = ?", actorID, targetID).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// HasActiveInterest reports whether actor's active decision on target is a
// like or superlike. Used for the reciprocity check.
func (r *DecisionRepository) HasActiveInterest(
	ctx context.Context,
	actorID, targetID uint64,
) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Decision{}).
		Where("actor_id = ? AND target_id = ? AND active = ? AND action IN ?",
			actorID, targetID, true, []string{db.ActionLike, db.ActionSuperlike}).
		Count(&count).Error
	return count > 0, err
}

// ListLikers returns the actors with an active like/superlike on target,
// newest first, excluding anyone the target has passed.
func (r *DecisionRepository) ListLikers(
	ctx context.Context,
	targetID uint64,
	limit int,
) ([]db.Decision, error) {
	var decisions []db.Decision
	err := r.db.WithContext(ctx).
		Table("decisions d").
		Where("d.target_id = ? AND d.active = ? AND d.action IN ?",
			targetID, true, []string{db.ActionLike, db.ActionSuperlike}).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM decisions d2
				WHERE d2.actor_id = ?
				  AND d2.target_id = d.actor_id
				  AND d2.active = ?
				  AND d2.action = ?
			)`, targetID, true, db.ActionPass).
		Order("d.updated_at DESC, d.actor_id DESC").
		Limit(limit).
		Find(&decisions).Error
	return decisions, err
}

// History aggregates the actor's active likes/passes, used to derive the
// behavioral swipe pattern.
func (r *DecisionRepository) History(
	ctx context.Context,
	actorID uint64,
	limit int,
) ([]db.Decision, error) {
	var decisions []db.Decision
	err := r.db.WithContext(ctx).
		Where("actor_id = ? AND active = ?", actorID, true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&decisions).Error
	return decisions, err
}
