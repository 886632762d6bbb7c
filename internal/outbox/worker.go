// Package outbox drains durably staged outbound messages with retry and
// backoff. The outbox table is the single source of truth for pending
// sends: entries survive restarts and disappear only on confirmed
// delivery.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/retry"
)

// Sender performs one delivery attempt and returns the confirmed message
// (echoing the entry's local id, so optimistic UI entries reconcile).
type Sender interface {
	Deliver(ctx context.Context, entry db.OutboxEntry) (*db.Message, error)
}

// Worker is the background drain loop.
type Worker struct {
	repo      *repository.OutboxRepository
	sender    Sender
	policy    retry.Policy
	pollEvery time.Duration
	batchSize int
	clk       clock.Clock
	log       *slog.Logger
}

func NewWorker(
	repo *repository.OutboxRepository,
	sender Sender,
	policy retry.Policy,
	pollEvery time.Duration,
	clk clock.Clock,
	log *slog.Logger,
) *Worker {
	return &Worker{
		repo:      repo,
		sender:    sender,
		policy:    policy,
		pollEvery: pollEvery,
		batchSize: 50,
		clk:       clk,
		log:       log,
	}
}

// Run drains the outbox until ctx is cancelled. Entries stuck in "sending"
// from a crashed process are re-armed once at startup.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.repo.RearmStale(ctx, w.clk.Now().Add(-time.Minute)); err != nil {
		w.log.Error("failed to re-arm stale outbox entries", "err", err)
	} else if n > 0 {
		w.log.Info("re-armed stale outbox entries", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clk.After(w.pollEvery):
		}
		w.Cycle(ctx)
	}
}

// Cycle runs one drain pass. Due entries are attempted oldest-first; after
// the first failure for a match, the rest of that match's entries are
// skipped for the cycle, preserving per-match FIFO delivery. Cross-match
// ordering is not guaranteed.
func (w *Worker) Cycle(ctx context.Context) {
	now := w.clk.Now()
	entries, err := w.repo.Due(ctx, now, w.batchSize)
	if err != nil {
		w.log.Error("failed to load due outbox entries", "err", err)
		return
	}

	blocked := make(map[string]bool)
	for _, entry := range entries {
		if blocked[entry.MatchID] {
			continue
		}
		if !w.attempt(ctx, entry) {
			blocked[entry.MatchID] = true
		}
	}
}

func (w *Worker) attempt(ctx context.Context, entry db.OutboxEntry) bool {
	if err := w.repo.MarkSending(ctx, entry.LocalID); err != nil {
		w.log.Error("failed to claim outbox entry", "local_id", entry.LocalID, "err", err)
		return false
	}
	attempts := entry.Attempts + 1

	msg, err := w.sender.Deliver(ctx, entry)
	if err == nil {
		if derr := w.repo.ConfirmDelivered(ctx, entry.LocalID); derr != nil {
			w.log.Error("delivered but failed to clear entry", "local_id", entry.LocalID, "err", derr)
		}
		w.log.Info("outbox entry delivered",
			"local_id", entry.LocalID, "match_id", entry.MatchID, "message_id", msg.ID, "attempts", attempts)
		return true
	}

	if w.policy.Exhausted(attempts) {
		w.log.Warn("outbox entry failed permanently",
			"local_id", entry.LocalID, "match_id", entry.MatchID, "attempts", attempts, "err", err)
		if perr := w.repo.MarkPermanent(ctx, entry.LocalID, err.Error()); perr != nil {
			w.log.Error("failed to park outbox entry", "local_id", entry.LocalID, "err", perr)
		}
		return false
	}

	next := w.clk.Now().Add(w.policy.Delay(attempts))
	if rerr := w.repo.MarkRetryable(ctx, entry.LocalID, next, err.Error()); rerr != nil {
		w.log.Error("failed to reschedule outbox entry", "local_id", entry.LocalID, "err", rerr)
	}
	return false
}
