// Package swipe records like/superlike/pass decisions idempotently and
// hands successful ones to the match detector.
package swipe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/ratelimit"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/scoring"
)

// MatchSink receives successful non-pass decisions, asynchronously.
type MatchSink interface {
	OnDecision(ctx context.Context, actorID, targetID uint64) error
}

// FeedInvalidator drops a viewer's cached ranking after their own swipe.
type FeedInvalidator interface {
	Invalidate(ctx context.Context, viewerID uint64)
}

// QuotaGuard is satisfied by ratelimit.Guard.
type QuotaGuard interface {
	Allow(ctx context.Context, userID uint64, action string) error
}

// Outcome reports what a Record call did.
type Outcome struct {
	Action string
	// Changed is false when the identical decision was already active and
	// the call was an idempotent no-op.
	Changed bool
}

// Processor is the swipe entry point.
type Processor struct {
	decisions   *repository.DecisionRepository
	profiles    *repository.ProfileRepository
	guard       QuotaGuard
	detector    MatchSink
	invalidator FeedInvalidator
	clk         clock.Clock
	log         *slog.Logger

	wg sync.WaitGroup
}

func NewProcessor(
	decisions *repository.DecisionRepository,
	profiles *repository.ProfileRepository,
	guard QuotaGuard,
	detector MatchSink,
	invalidator FeedInvalidator,
	clk clock.Clock,
	log *slog.Logger,
) *Processor {
	return &Processor{
		decisions:   decisions,
		profiles:    profiles,
		guard:       guard,
		detector:    detector,
		invalidator: invalidator,
		clk:         clk,
		log:         log,
	}
}

func validAction(action string) bool {
	switch action {
	case db.ActionLike, db.ActionSuperlike, db.ActionPass:
		return true
	}
	return false
}

// Record applies one decision. Identical repeats are no-ops; a changed
// action supersedes the prior active decision for the pair. The guard runs
// before anything is persisted; the match detector is triggered
// asynchronously on success.
func (p *Processor) Record(ctx context.Context, actorID, targetID uint64, action string) (Outcome, error) {
	if actorID == 0 || targetID == 0 {
		return Outcome{}, apperr.Validation("user_id", "ids must be non-zero")
	}
	if actorID == targetID {
		return Outcome{}, apperr.Validation("target_id", "cannot decide on yourself")
	}
	if !validAction(action) {
		return Outcome{}, apperr.Validation("action", "must be like, superlike or pass")
	}

	if err := p.guard.Allow(ctx, actorID, ratelimit.ActionSwipe); err != nil {
		return Outcome{}, err
	}

	prev, err := p.decisions.Get(ctx, actorID, targetID)
	if err != nil {
		return Outcome{}, apperr.Transient("swipe.lookup", err)
	}
	if prev != nil && prev.Active && prev.Action == action {
		return Outcome{Action: action, Changed: false}, nil
	}

	if err := p.decisions.Upsert(ctx, actorID, targetID, action); err != nil {
		return Outcome{}, apperr.Transient("swipe.record", err)
	}

	p.applyEngagement(ctx, actorID, targetID, action)
	p.invalidator.Invalidate(ctx, actorID)

	if action != db.ActionPass {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.detector.OnDecision(dctx, actorID, targetID); err != nil {
				p.log.Error("match detection failed", "actor_id", actorID, "target_id", targetID, "err", err)
			}
		}()
	}

	return Outcome{Action: action, Changed: true}, nil
}

// applyEngagement updates the target's like counter and ELO rating after
// the outcome. Best effort: a failed counter update never fails the swipe.
func (p *Processor) applyEngagement(ctx context.Context, actorID, targetID uint64, action string) {
	actor, err := p.profiles.Get(ctx, actorID)
	if err != nil || actor == nil {
		return
	}
	target, err := p.profiles.Get(ctx, targetID)
	if err != nil || target == nil {
		return
	}

	liked := action != db.ActionPass
	if liked {
		if err := p.profiles.RecordLike(ctx, targetID); err != nil {
			p.log.Warn("failed to bump like counter", "target_id", targetID, "err", err)
		}
	}

	next := scoring.NextRating(target.Rating, actor.Rating, liked)
	if err := p.profiles.UpdateRating(ctx, targetID, next); err != nil {
		p.log.Warn("failed to update rating", "target_id", targetID, "err", err)
	}
}

// Wait blocks until all in-flight match detections finish. Called on
// shutdown.
func (p *Processor) Wait() {
	p.wg.Wait()
}
