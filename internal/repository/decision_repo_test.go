package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
)

func TestUpsertSupersedesDecision(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewDecisionRepository(dbase)

	// like, then reverse to pass
	require.NoError(t, repo.Upsert(ctx, 1, 2, db.ActionLike))
	require.NoError(t, repo.Upsert(ctx, 1, 2, db.ActionPass))

	var count int64
	_ = dbase.Model(&db.Decision{}).Count(&count).Error
	assert.Equal(t, int64(1), count, "supersession must not duplicate rows")

	d, err := repo.Get(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, db.ActionPass, d.Action)
}

func TestGetMissingDecisionIsNil(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDecisionRepository(setupTestDB(t))

	d, err := repo.Get(ctx, 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestHasActiveInterest(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDecisionRepository(setupTestDB(t))

	require.NoError(t, repo.Upsert(ctx, 1, 2, db.ActionLike))
	require.NoError(t, repo.Upsert(ctx, 3, 2, db.ActionPass))

	ok, err := repo.HasActiveInterest(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	// a pass is not interest
	ok, err = repo.HasActiveInterest(ctx, 3, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// interest superseded by a pass no longer counts
	require.NoError(t, repo.Upsert(ctx, 1, 2, db.ActionPass))
	ok, err = repo.HasActiveInterest(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListLikersExcludesPassedActors(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDecisionRepository(setupTestDB(t))

	// actors 1, 2, 3 liked user 99
	require.NoError(t, repo.Upsert(ctx, 1, 99, db.ActionLike))
	require.NoError(t, repo.Upsert(ctx, 2, 99, db.ActionSuperlike))
	require.NoError(t, repo.Upsert(ctx, 3, 99, db.ActionLike))
	// 99 already passed on 2
	require.NoError(t, repo.Upsert(ctx, 99, 2, db.ActionPass))

	likers, err := repo.ListLikers(ctx, 99, 10)
	require.NoError(t, err)

	actors := make([]uint64, 0, len(likers))
	for _, d := range likers {
		actors = append(actors, d.ActorID)
	}
	assert.ElementsMatch(t, []uint64{1, 3}, actors)
}

func TestHistoryLimit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewDecisionRepository(setupTestDB(t))

	for target := uint64(10); target < 20; target++ {
		require.NoError(t, repo.Upsert(ctx, 1, target, db.ActionLike))
	}

	history, err := repo.History(ctx, 1, 5)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}
