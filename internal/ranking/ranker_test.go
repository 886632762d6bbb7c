package ranking_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/config"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/ranking"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/scoring"
)

// central London and points at known distances from it
const (
	londonLat = 51.5074
	londonLng = -0.1278
)

func testOptions() ranking.Options {
	return ranking.Options{
		FeedSize:    3,
		CacheSize:   2,
		CacheTTL:    time.Minute,
		SnapshotTTL: 5 * time.Minute,
	}
}

type rankerFixture struct {
	ranker   *ranking.Ranker
	profiles *repository.ProfileRepository
	db       *gorm.DB
	redis    *cache.RedisCache
	mr       *miniredis.Miniredis
	clk      *clock.Manual
}

func setupRanker(t *testing.T) *rankerFixture {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(database))

	mr := miniredis.RunT(t)
	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()
	redisCache := cache.NewRedisCache(cfg)

	clk := clock.NewManual(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	profiles := repository.NewProfileRepository(database)
	engine := scoring.NewEngine(scoring.DefaultWeights(), 50)
	ranker := ranking.NewRanker(
		engine, profiles, redisCache, testOptions(), clk,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &rankerFixture{ranker: ranker, profiles: profiles, db: database, redis: redisCache, mr: mr, clk: clk}
}

func (f *rankerFixture) addProfile(t *testing.T, id uint64, lat, lng float64, interests string) {
	t.Helper()
	require.NoError(t, f.db.Create(&db.Profile{
		ID:           id,
		DisplayName:  "user",
		Email:        uuidish(id),
		PasswordHash: "x",
		Gender:       "female",
		Interests:    interests,
		Lat:          lat,
		Lng:          lng,
		Active:       true,
		LastActiveAt: time.Date(2026, 3, 14, 11, 30, 0, 0, time.UTC),
	}).Error)
}

func uuidish(id uint64) string {
	return string(rune('a'+id%26)) + "x@example.test"
}

func TestFeedRanksNearOverlapFirst(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking,jazz,coffee")
	// near, shared interests
	f.addProfile(t, 2, londonLat+0.01, londonLng, "hiking,jazz")
	// far (about 40km north) and nothing in common
	f.addProfile(t, 3, londonLat+0.36, londonLng, "golf,opera")

	items, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, uint64(2), items[0].Profile.ID)
	assert.Greater(t, items[0].Breakdown.Total, items[1].Breakdown.Total)
}

func TestFeedExcludesBeyondMaxDistance(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking")
	// roughly 90km away, past the 50km radius
	f.addProfile(t, 2, londonLat+0.8, londonLng, "hiking")

	items, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFeedUnknownViewer(t *testing.T) {
	f := setupRanker(t)

	_, err := f.ranker.Feed(context.Background(), 42)
	assert.True(t, apperr.IsValidation(err))
}

func TestFeedServedFromCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking")
	f.addProfile(t, 2, londonLat+0.01, londonLng, "hiking")

	items, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// new candidate appears but the cached feed does not move
	f.addProfile(t, 3, londonLat+0.02, londonLng, "hiking")
	items, err = f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	f.ranker.Invalidate(ctx, 1)
	items, err = f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestFeedFallsBackToSnapshotTier(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking")
	f.addProfile(t, 2, londonLat+0.01, londonLng, "hiking")

	_, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)

	// push the viewer out of the in-process tier via LRU pressure
	f.addProfile(t, 10, londonLat, londonLng+1.5, "golf")
	f.addProfile(t, 11, londonLat+0.01, londonLng+1.5, "golf")
	_, err = f.ranker.Feed(ctx, 10)
	require.NoError(t, err)
	_, err = f.ranker.Feed(ctx, 11)
	require.NoError(t, err)

	// hide the new candidate: if the snapshot serves, it stays hidden
	f.addProfile(t, 3, londonLat+0.02, londonLng, "hiking")
	items, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1, "snapshot tier served the stale feed")
}

func TestFeedTruncatesToFeedSize(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking")
	for id := uint64(2); id <= 8; id++ {
		f.addProfile(t, id, londonLat+0.01, londonLng, "hiking")
	}

	items, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestFeedRecordsViews(t *testing.T) {
	ctx := context.Background()
	f := setupRanker(t)

	f.addProfile(t, 1, londonLat, londonLng, "hiking")
	f.addProfile(t, 2, londonLat+0.01, londonLng, "hiking")

	_, err := f.ranker.Feed(ctx, 1)
	require.NoError(t, err)

	p, err := f.profiles.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.ViewsReceived)
}
