package outbox_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/notify"
	"github.com/kindled-app/kindled/internal/outbox"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/retry"
)

// flakySender fails the first failures-per-entry deliveries, then hands
// off to the real store sender.
type flakySender struct {
	mu       sync.Mutex
	failures map[string]int
	inner    outbox.Sender
	order    []string
}

func (s *flakySender) Deliver(ctx context.Context, entry db.OutboxEntry) (*db.Message, error) {
	s.mu.Lock()
	s.order = append(s.order, entry.LocalID)
	remaining := s.failures[entry.LocalID]
	if remaining > 0 {
		s.failures[entry.LocalID] = remaining - 1
		s.mu.Unlock()
		return nil, errors.New("transport down")
	}
	s.mu.Unlock()
	return s.inner.Deliver(ctx, entry)
}

type workerFixture struct {
	worker   *outbox.Worker
	repo     *repository.OutboxRepository
	messages *repository.MessageRepository
	sender   *flakySender
	clk      *clock.Manual
	policy   retry.Policy
}

func setupWorker(t *testing.T) *workerFixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	// Row timestamps must come from the same clock the worker reads, or
	// staleness and FIFO ordering checks compare across clocks.
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return clk.Now() },
	})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(database))

	messages := repository.NewMessageRepository(database)
	repo := repository.NewOutboxRepository(database)
	policy := retry.Policy{Base: 2 * time.Second, MaxDelay: time.Minute, MaxAttempts: 3}

	sender := &flakySender{
		failures: make(map[string]int),
		inner:    outbox.NewStoreSender(messages, notify.NewDispatcher(), clk),
	}
	worker := outbox.NewWorker(repo, sender, policy, time.Second, clk,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &workerFixture{worker: worker, repo: repo, messages: messages, sender: sender, clk: clk, policy: policy}
}

func (f *workerFixture) stage(t *testing.T, matchID, body string) db.OutboxEntry {
	t.Helper()
	e := db.OutboxEntry{
		LocalID:     uuid.NewString(),
		MatchID:     matchID,
		SenderID:    1,
		ReceiverID:  2,
		Body:        body,
		Status:      db.OutboxPending,
		NextRetryAt: f.clk.Now(),
	}
	require.NoError(t, f.repo.Enqueue(context.Background(), &e))
	return e
}

func TestCycleDeliversPending(t *testing.T) {
	ctx := context.Background()
	f := setupWorker(t)

	e := f.stage(t, "m:1:2", "hello")
	f.worker.Cycle(ctx)

	// delivered entries leave the outbox, the message owns the local id
	got, err := f.repo.Get(ctx, e.LocalID)
	require.NoError(t, err)
	assert.Nil(t, got)

	msg, err := f.messages.GetByLocalID(ctx, "m:1:2", e.LocalID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Body)
	assert.NotNil(t, msg.DeliveredAt)
}

func TestBackoffProgression(t *testing.T) {
	ctx := context.Background()
	f := setupWorker(t)

	e := f.stage(t, "m:1:2", "eventually")
	f.sender.failures[e.LocalID] = 2

	// attempt 1 fails, next retry in Base
	f.worker.Cycle(ctx)
	got, _ := f.repo.Get(ctx, e.LocalID)
	require.NotNil(t, got)
	assert.Equal(t, db.OutboxFailedRetryable, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// not due yet: one second is inside the 2s backoff
	f.clk.Advance(time.Second)
	f.worker.Cycle(ctx)
	got, _ = f.repo.Get(ctx, e.LocalID)
	assert.Equal(t, 1, got.Attempts)

	// attempt 2 fails, backoff doubles to 4s
	f.clk.Advance(time.Second)
	f.worker.Cycle(ctx)
	got, _ = f.repo.Get(ctx, e.LocalID)
	assert.Equal(t, 2, got.Attempts)

	f.clk.Advance(3 * time.Second)
	f.worker.Cycle(ctx)
	got, _ = f.repo.Get(ctx, e.LocalID)
	assert.Equal(t, 2, got.Attempts, "still inside the doubled backoff")

	// attempt 3 succeeds
	f.clk.Advance(2 * time.Second)
	f.worker.Cycle(ctx)
	got, _ = f.repo.Get(ctx, e.LocalID)
	assert.Nil(t, got)
}

func TestExhaustionParksEntry(t *testing.T) {
	ctx := context.Background()
	f := setupWorker(t)

	e := f.stage(t, "m:1:2", "doomed")
	f.sender.failures[e.LocalID] = 100

	for i := 0; i < 5; i++ {
		f.worker.Cycle(ctx)
		f.clk.Advance(time.Minute)
	}

	got, err := f.repo.Get(ctx, e.LocalID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, db.OutboxFailedPermanent, got.Status)
	assert.Equal(t, 3, got.Attempts, "no attempts past the policy limit")
	assert.Equal(t, "transport down", got.LastError)

	// explicit user retry re-arms it and it finally delivers
	f.sender.mu.Lock()
	f.sender.failures[e.LocalID] = 0
	f.sender.mu.Unlock()
	require.NoError(t, f.repo.Requeue(ctx, e.LocalID, f.clk.Now()))
	f.worker.Cycle(ctx)

	got, _ = f.repo.Get(ctx, e.LocalID)
	assert.Nil(t, got)
}

func TestPerMatchFIFOOnFailure(t *testing.T) {
	ctx := context.Background()
	f := setupWorker(t)

	first := f.stage(t, "m:1:2", "first")
	f.clk.Advance(time.Millisecond)
	second := f.stage(t, "m:1:2", "second")
	f.clk.Advance(time.Millisecond)
	other := f.stage(t, "m:3:4", "other match")

	// first is stuck; second must wait for it, other match proceeds
	f.sender.failures[first.LocalID] = 1
	f.worker.Cycle(ctx)

	assert.Equal(t, []string{first.LocalID, other.LocalID}, f.sender.order,
		"blocked match skips the rest of its queue for the cycle")

	msg, err := f.messages.GetByLocalID(ctx, "m:1:2", second.LocalID)
	require.NoError(t, err)
	assert.Nil(t, msg)

	// next cycle drains the match in order
	f.clk.Advance(3 * time.Second)
	f.worker.Cycle(ctx)

	msgs, err := f.messages.After(ctx, "m:1:2", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
}

func TestDeliverIsIdempotentAcrossLostConfirmations(t *testing.T) {
	ctx := context.Background()
	f := setupWorker(t)

	e := f.stage(t, "m:1:2", "once")
	sender := outbox.NewStoreSender(f.messages, notify.NewDispatcher(), f.clk)

	m1, err := sender.Deliver(ctx, e)
	require.NoError(t, err)
	// confirmation was lost; the retry must not write a second row
	m2, err := sender.Deliver(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, m2.ID)

	msgs, err := f.messages.After(ctx, "m:1:2", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRunRearmsStaleOnStartup(t *testing.T) {
	f := setupWorker(t)

	e := f.stage(t, "m:1:2", "orphaned")
	require.NoError(t, f.repo.MarkSending(context.Background(), e.LocalID))

	// simulate a restart long after the claim
	f.clk.Advance(5 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	// the startup pass re-arms; advancing past the poll interval lets a
	// tick fire regardless of when the loop registered its waiter
	require.Eventually(t, func() bool {
		f.clk.Advance(2 * time.Second)
		got, err := f.repo.Get(context.Background(), e.LocalID)
		return err == nil && got == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
