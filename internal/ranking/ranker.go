// Package ranking turns the candidate pool into a scored, ordered feed and
// memoizes it per viewer in two tiers: a short in-process LRU and a broader
// Redis snapshot.
package ranking

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/scoring"
)

// Candidate is one feed entry: the profile plus its score breakdown for
// the explanatory UI.
type Candidate struct {
	Profile   db.Profile        `json:"profile"`
	Breakdown scoring.Breakdown `json:"breakdown"`
}

// Options tune the ranker.
type Options struct {
	FeedSize    int
	CacheSize   int
	CacheTTL    time.Duration
	SnapshotTTL time.Duration
	// HistorySize caps how many liked profiles feed the behavioral pattern.
	HistorySize int
}

// Ranker computes and caches per-viewer feeds.
type Ranker struct {
	engine   *scoring.Engine
	profiles *repository.ProfileRepository
	redis    *cache.RedisCache
	tier1    *lruCache
	opts     Options
	clk      clock.Clock
	log      *slog.Logger
}

func NewRanker(
	engine *scoring.Engine,
	profiles *repository.ProfileRepository,
	redisCache *cache.RedisCache,
	opts Options,
	clk clock.Clock,
	log *slog.Logger,
) *Ranker {
	if opts.HistorySize == 0 {
		opts.HistorySize = 50
	}
	return &Ranker{
		engine:   engine,
		profiles: profiles,
		redis:    redisCache,
		tier1:    newLRUCache(opts.CacheSize, opts.CacheTTL, clk),
		opts:     opts,
		clk:      clk,
		log:      log,
	}
}

// Feed returns the viewer's ranked candidate list, cache-first:
// in-process tier, then Redis snapshot, then a full recompute.
func (r *Ranker) Feed(ctx context.Context, viewerID uint64) ([]Candidate, error) {
	if items, ok := r.tier1.get(viewerID); ok {
		return items, nil
	}

	if items, ok := r.snapshot(ctx, viewerID); ok {
		r.tier1.put(viewerID, items)
		return items, nil
	}

	items, err := r.compute(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	r.tier1.put(viewerID, items)
	r.storeSnapshot(ctx, viewerID, items)

	ids := make([]uint64, len(items))
	for i, c := range items {
		ids[i] = c.Profile.ID
	}
	if err := r.profiles.RecordViews(ctx, ids); err != nil {
		r.log.Warn("failed to record feed views", "viewer_id", viewerID, "err", err)
	}

	return items, nil
}

// Invalidate drops both cache tiers for the viewer. Called on the viewer's
// own swipes, profile edits of either party and explicit refresh.
func (r *Ranker) Invalidate(ctx context.Context, viewerID uint64) {
	r.tier1.invalidate(viewerID)
	if err := r.redis.Del(ctx, r.redis.KeyForFeed(viewerID)); err != nil {
		r.log.Warn("failed to drop feed snapshot", "viewer_id", viewerID, "err", err)
	}
}

// compute scores the candidate pool in parallel. Workers share nothing
// mutable; results are merged and sorted at the end.
func (r *Ranker) compute(ctx context.Context, viewerID uint64) ([]Candidate, error) {
	viewer, err := r.profiles.Get(ctx, viewerID)
	if err != nil {
		return nil, apperr.Transient("ranking.viewer", err)
	}
	if viewer == nil {
		return nil, apperr.Validation("viewer_id", "unknown viewer")
	}

	pool, err := r.profiles.Candidates(ctx, viewerID, r.opts.FeedSize*4)
	if err != nil {
		return nil, apperr.Transient("ranking.candidates", err)
	}

	liked, err := r.profiles.LikedProfiles(ctx, viewerID, r.opts.HistorySize)
	if err != nil {
		return nil, apperr.Transient("ranking.history", err)
	}
	now := r.clk.Now()
	hist := scoring.BuildHistory(liked, now)

	maxDist := r.engine.MaxDistanceKm()
	workers := runtime.GOMAXPROCS(0)
	if workers > len(pool) {
		workers = len(pool)
	}

	jobs := make(chan db.Profile)
	var mu sync.Mutex
	var items []Candidate
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range jobs {
				dist := scoring.DistanceKm(viewer.Lat, viewer.Lng, cand.Lat, cand.Lng)
				if dist > maxDist {
					continue
				}
				item := Candidate{
					Profile:   cand,
					Breakdown: r.engine.Score(viewer, &cand, hist, now),
				}
				mu.Lock()
				items = append(items, item)
				mu.Unlock()
			}
		}()
	}

	for _, cand := range pool {
		jobs <- cand
	}
	close(jobs)
	wg.Wait()

	sort.Slice(items, func(i, j int) bool {
		if items[i].Breakdown.Total != items[j].Breakdown.Total {
			return items[i].Breakdown.Total > items[j].Breakdown.Total
		}
		return items[i].Profile.ID < items[j].Profile.ID
	})

	if len(items) > r.opts.FeedSize {
		items = items[:r.opts.FeedSize]
	}
	return items, nil
}

func (r *Ranker) snapshot(ctx context.Context, viewerID uint64) ([]Candidate, bool) {
	raw, err := r.redis.Get(ctx, r.redis.KeyForFeed(viewerID))
	if err != nil || raw == "" {
		return nil, false
	}
	var items []Candidate
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		// corrupt snapshot: drop and recompute
		_ = r.redis.Del(ctx, r.redis.KeyForFeed(viewerID))
		return nil, false
	}
	return items, true
}

func (r *Ranker) storeSnapshot(ctx context.Context, viewerID uint64, items []Candidate) {
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, r.redis.KeyForFeed(viewerID), string(raw), r.opts.SnapshotTTL); err != nil {
		r.log.Warn("failed to store feed snapshot", "viewer_id", viewerID, "err", err)
	}
}
