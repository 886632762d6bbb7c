package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
)

func seedProfiles(t *testing.T, database *gorm.DB, profiles ...db.Profile) {
	t.Helper()
	for i := range profiles {
		require.NoError(t, database.Create(&profiles[i]).Error)
	}
}

func baseForRepoTest(id uint64, name string) db.Profile {
	return db.Profile{
		ID:           id,
		DisplayName:  name,
		Email:        name + "@example.test",
		PasswordHash: "x",
		Gender:       "female",
		BirthYear:    1995,
		Active:       true,
		LastActiveAt: time.Now().UTC(),
	}
}

func TestCandidatesExcludesSelfAndDecided(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	profiles := repository.NewProfileRepository(database)
	decisions := repository.NewDecisionRepository(database)

	seedProfiles(t, database,
		baseForRepoTest(1, "viewer"),
		baseForRepoTest(2, "liked"),
		baseForRepoTest(3, "fresh"),
		baseForRepoTest(4, "inactive"),
	)
	require.NoError(t, database.Model(&db.Profile{}).Where("id = ?", 4).Update("active", false).Error)
	require.NoError(t, decisions.Upsert(ctx, 1, 2, db.ActionLike))

	got, err := profiles.Candidates(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].ID)
}

func TestLikedProfiles(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	profiles := repository.NewProfileRepository(database)
	decisions := repository.NewDecisionRepository(database)

	seedProfiles(t, database,
		baseForRepoTest(1, "viewer"),
		baseForRepoTest(2, "a"),
		baseForRepoTest(3, "b"),
		baseForRepoTest(4, "c"),
	)
	require.NoError(t, decisions.Upsert(ctx, 1, 2, db.ActionLike))
	require.NoError(t, decisions.Upsert(ctx, 1, 3, db.ActionSuperlike))
	require.NoError(t, decisions.Upsert(ctx, 1, 4, db.ActionPass))

	liked, err := profiles.LikedProfiles(ctx, 1, 10)
	require.NoError(t, err)

	ids := make([]uint64, 0, len(liked))
	for _, p := range liked {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []uint64{2, 3}, ids)
}

func TestEngagementCounters(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	profiles := repository.NewProfileRepository(database)

	seedProfiles(t, database, baseForRepoTest(1, "a"), baseForRepoTest(2, "b"))

	require.NoError(t, profiles.RecordLike(ctx, 1))
	require.NoError(t, profiles.RecordViews(ctx, []uint64{1, 2}))
	require.NoError(t, profiles.UpdateRating(ctx, 1, 1516))

	p, err := profiles.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, uint64(1), p.LikesReceived)
	assert.Equal(t, uint64(1), p.ViewsReceived)
	assert.Equal(t, float64(1516), p.Rating)
}

func TestGetMissingProfileIsNil(t *testing.T) {
	profiles := repository.NewProfileRepository(setupTestDB(t))

	p, err := profiles.Get(context.Background(), 42)
	assert.NoError(t, err)
	assert.Nil(t, p)
}
