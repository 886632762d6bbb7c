package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/repository"
)

func TestMatchKeyIsOrderInsensitive(t *testing.T) {
	id1, lo, hi := db.MatchKey(7, 3)
	id2, _, _ := db.MatchKey(3, 7)

	assert.Equal(t, id1, id2)
	assert.Equal(t, "m:3:7", id1)
	assert.Equal(t, uint64(3), lo)
	assert.Equal(t, uint64(7), hi)
}

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMatchRepository(setupTestDB(t))

	m1, created, err := repo.CreateIfAbsent(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, created)

	// second attempt, reversed order, converges on the same row
	m2, created, err := repo.CreateIfAbsent(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1.ID, m2.ID)

	matches, err := repo.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestCreateIfAbsentConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMatchRepository(setupTestDB(t))

	const writers = 8
	createdCount := make(chan bool, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		a, b := uint64(1), uint64(2)
		if i%2 == 1 {
			a, b = b, a
		}
		go func(a, b uint64) {
			defer wg.Done()
			_, created, err := repo.CreateIfAbsent(ctx, a, b)
			if err == nil {
				createdCount <- created
			}
		}(a, b)
	}
	wg.Wait()
	close(createdCount)

	wins := 0
	for created := range createdCount {
		if created {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one writer observes creation")
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMatchRepository(setupTestDB(t))

	m, _, err := repo.CreateIfAbsent(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, repo.Deactivate(ctx, m.ID))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Active)

	// inactive matches drop out of the listing
	matches, err := repo.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
