// Package ratelimit enforces per-user action quotas with a remote
// authoritative counter and a local fallback, so enforcement degrades
// gracefully instead of failing open when the quota service is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
)

// Guarded actions.
const (
	ActionSwipe   = "swipe"
	ActionMessage = "message"
)

// Limits configures the guard. The local fallback enforces the identical
// numeric limits over the identical window.
type Limits struct {
	SwipesPerWindow   int
	MessagesPerWindow int
	Window            time.Duration
	RemoteTimeout     time.Duration
}

// Guard is the dual-layer quota enforcer. Safe for concurrent use.
type Guard struct {
	limits Limits
	remote *cache.RedisCache
	clk    clock.Clock
	log    *slog.Logger

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int64
}

func NewGuard(limits Limits, remote *cache.RedisCache, clk clock.Clock, log *slog.Logger) *Guard {
	return &Guard{
		limits: limits,
		remote: remote,
		clk:    clk,
		log:    log,
		local:  make(map[string]*localWindow),
	}
}

func (g *Guard) limitFor(action string) (int, error) {
	switch action {
	case ActionSwipe:
		return g.limits.SwipesPerWindow, nil
	case ActionMessage:
		return g.limits.MessagesPerWindow, nil
	default:
		return 0, apperr.Validation("action", fmt.Sprintf("unknown rate-limited action %q", action))
	}
}

// Allow consumes one unit of the user's quota for action. Over the limit it
// returns QuotaExceededError, which callers must not retry. Remote
// transport trouble is absorbed by the local fallback and never surfaced.
func (g *Guard) Allow(ctx context.Context, userID uint64, action string) error {
	limit, err := g.limitFor(action)
	if err != nil {
		return err
	}

	now := g.clk.Now()
	windowStart := now.Truncate(g.limits.Window)
	resetAt := windowStart.Add(g.limits.Window)

	rctx, cancel := context.WithTimeout(ctx, g.limits.RemoteTimeout)
	defer cancel()

	key := g.remote.KeyForQuota(userID, action, windowStart.Unix())
	count, rerr := g.remote.IncrWindow(rctx, key, g.limits.Window)
	if rerr == nil {
		// Remote is authoritative: reconcile the local shadow to it so the
		// fallback picks up where the server left off (server wins).
		g.setLocal(userID, action, windowStart, count)
		if count > int64(limit) {
			return &apperr.QuotaExceededError{UserID: userID, Action: action, Limit: limit, ResetAt: resetAt}
		}
		return nil
	}

	g.log.Warn("quota authority unreachable, enforcing locally",
		"user_id", userID, "action", action, "err", rerr)

	count = g.bumpLocal(userID, action, windowStart)
	if count > int64(limit) {
		return &apperr.QuotaExceededError{UserID: userID, Action: action, Limit: limit, ResetAt: resetAt}
	}
	return nil
}

// Remaining reports how much of the user's quota for action is left in the
// current window without consuming any. It reads the authoritative counter
// back; when the remote is unreachable the local shadow answers instead.
func (g *Guard) Remaining(ctx context.Context, userID uint64, action string) (int64, error) {
	limit, err := g.limitFor(action)
	if err != nil {
		return 0, err
	}

	windowStart := g.clk.Now().Truncate(g.limits.Window)

	rctx, cancel := context.WithTimeout(ctx, g.limits.RemoteTimeout)
	defer cancel()

	count, rerr := g.remote.GetCount(rctx, g.remote.KeyForQuota(userID, action, windowStart.Unix()))
	if rerr != nil {
		g.log.Warn("quota authority unreachable, reading local shadow",
			"user_id", userID, "action", action, "err", rerr)
		count = g.LocalCount(userID, action)
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func localKey(userID uint64, action string) string {
	return fmt.Sprintf("%d:%s", userID, action)
}

func (g *Guard) setLocal(userID uint64, action string, windowStart time.Time, count int64) {
	if count < 0 {
		count = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.local[localKey(userID, action)] = &localWindow{start: windowStart, count: count}
}

func (g *Guard) bumpLocal(userID uint64, action string, windowStart time.Time) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := localKey(userID, action)
	w := g.local[key]
	if w == nil || !w.start.Equal(windowStart) {
		w = &localWindow{start: windowStart}
		g.local[key] = w
	}
	w.count++
	return w.count
}

// LocalCount exposes the fallback counter for (user, action) within the
// current window. Diagnostic only.
func (g *Guard) LocalCount(userID uint64, action string) int64 {
	windowStart := g.clk.Now().Truncate(g.limits.Window)
	g.mu.Lock()
	defer g.mu.Unlock()
	w := g.local[localKey(userID, action)]
	if w == nil || !w.start.Equal(windowStart) {
		return 0
	}
	return w.count
}
