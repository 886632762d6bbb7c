// Package match detects reciprocal decisions and creates matches exactly
// once under concurrent triggers.
package match

import (
	"context"
	"log/slog"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/notify"
	"github.com/kindled-app/kindled/internal/repository"
)

// Detector turns reciprocal interest into match rows and events.
type Detector struct {
	decisions *repository.DecisionRepository
	matches   *repository.MatchRepository
	notifier  notify.Notifier
	clk       clock.Clock
	log       *slog.Logger
}

func NewDetector(
	decisions *repository.DecisionRepository,
	matches *repository.MatchRepository,
	notifier notify.Notifier,
	clk clock.Clock,
	log *slog.Logger,
) *Detector {
	return &Detector{
		decisions: decisions,
		matches:   matches,
		notifier:  notifier,
		clk:       clk,
		log:       log,
	}
}

// OnDecision checks for an active reciprocal interest target -> actor and,
// if present, creates the match via create-if-absent on the deterministic
// pair key. Both sides of a mutual like can trigger this concurrently; the
// race loser observes the existing row and reports success. The
// match-created event fires only for the actual creator, and consumers
// still have to deduplicate on the event id (at-least-once).
func (d *Detector) OnDecision(ctx context.Context, actorID, targetID uint64) error {
	reciprocal, err := d.decisions.HasActiveInterest(ctx, targetID, actorID)
	if err != nil {
		return apperr.Transient("match.reciprocal", err)
	}
	if !reciprocal {
		return nil
	}

	m, created, err := d.matches.CreateIfAbsent(ctx, actorID, targetID)
	if err != nil {
		return apperr.Transient("match.create", err)
	}
	if !created {
		// Idempotent outcome: someone else already materialized the pair.
		d.log.Debug("match already exists", "match_id", m.ID)
		return nil
	}

	d.log.Info("match created", "match_id", m.ID, "user_lo", m.UserLoID, "user_hi", m.UserHiID)
	d.notifier.Notify(notify.NewEvent(notify.KindMatchCreated, m.ID, d.clk.Now(), m.UserLoID, m.UserHiID))
	return nil
}

// Unmatch deactivates the pair's match (unmatch or block) and emits a
// match-ended event. Idempotent: a second call is a no-op.
func (d *Detector) Unmatch(ctx context.Context, a, b uint64) error {
	id, lo, hi := db.MatchKey(a, b)

	m, err := d.matches.Get(ctx, id)
	if err != nil {
		return apperr.Transient("match.lookup", err)
	}
	if m == nil || !m.Active {
		return nil
	}

	if err := d.matches.Deactivate(ctx, id); err != nil {
		return apperr.Transient("match.deactivate", err)
	}
	d.notifier.Notify(notify.NewEvent(notify.KindMatchEnded, id, d.clk.Now(), lo, hi))
	return nil
}
