package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/config"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/ratelimit"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/server"
)

type gatewayFixture struct {
	router    *mux.Router
	decisions *repository.DecisionRepository
	guard     *ratelimit.Guard
}

// Only the routes backed by the decision repository and the quota guard are
// exercised here; the engine surfaces have their own suites.
func setupGateway(t *testing.T) *gatewayFixture {
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

	clk := clock.NewManual(time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	decisions := repository.NewDecisionRepository(database)
	guard := ratelimit.NewGuard(ratelimit.Limits{
		SwipesPerWindow:   3,
		MessagesPerWindow: 5,
		Window:            time.Hour,
		RemoteTimeout:     200 * time.Millisecond,
	}, redisCache, clk, log)

	router := mux.NewRouter()
	server.NewHandlers(nil, nil, nil, nil, decisions, guard, nil).Register(router)

	return &gatewayFixture{router: router, decisions: decisions, guard: guard}
}

func (f *gatewayFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestListLikersRoute(t *testing.T) {
	ctx := context.Background()
	f := setupGateway(t)

	require.NoError(t, f.decisions.Upsert(ctx, 2, 1, db.ActionLike))
	require.NoError(t, f.decisions.Upsert(ctx, 3, 1, db.ActionSuperlike))
	require.NoError(t, f.decisions.Upsert(ctx, 4, 1, db.ActionPass))

	rec, body := f.get(t, "/v1/users/1/likers")
	require.Equal(t, http.StatusOK, rec.Code)

	var likers []struct {
		UserID uint64 `json:"user_id"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(body["likers"], &likers))
	require.Len(t, likers, 2)

	got := map[uint64]string{}
	for _, l := range likers {
		got[l.UserID] = l.Action
	}
	assert.Equal(t, map[uint64]string{2: db.ActionLike, 3: db.ActionSuperlike}, got)
}

func TestSwipeHistoryRoute(t *testing.T) {
	ctx := context.Background()
	f := setupGateway(t)

	require.NoError(t, f.decisions.Upsert(ctx, 1, 2, db.ActionLike))
	require.NoError(t, f.decisions.Upsert(ctx, 1, 3, db.ActionPass))

	rec, body := f.get(t, "/v1/users/1/swipes")
	require.Equal(t, http.StatusOK, rec.Code)

	var swipes []db.Decision
	require.NoError(t, json.Unmarshal(body["swipes"], &swipes))
	assert.Len(t, swipes, 2)
}

func TestQuotaRoute(t *testing.T) {
	ctx := context.Background()
	f := setupGateway(t)

	require.NoError(t, f.guard.Allow(ctx, 1, ratelimit.ActionSwipe))

	rec, body := f.get(t, "/v1/users/1/quota")
	require.Equal(t, http.StatusOK, rec.Code)

	var remaining int64
	require.NoError(t, json.Unmarshal(body["remaining"], &remaining))
	assert.EqualValues(t, 2, remaining)

	rec, _ = f.get(t, "/v1/users/1/quota?action=teleport")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
