// Package chat keeps a two-party conversation consistent across paginated
// history, a live update tail, an offline send queue and read-state
// tracking.
package chat

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/cache"
	"github.com/kindled-app/kindled/internal/clock"
	"github.com/kindled-app/kindled/internal/db"
	"github.com/kindled-app/kindled/internal/notify"
	"github.com/kindled-app/kindled/internal/ratelimit"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/utils/pagination"
)

// QuotaGuard is satisfied by ratelimit.Guard.
type QuotaGuard interface {
	Allow(ctx context.Context, userID uint64, action string) error
}

// SendResult reports what happened to an outbound message.
type SendResult struct {
	// Message is the confirmed row when delivery succeeded immediately,
	// or the optimistic entry when it was queued.
	Message db.Message
	// Queued means the message was staged in the outbox for background
	// retry instead of being confirmed.
	Queued  bool
	LocalID string
}

// Engine drives conversation sessions for one client. Exactly one live
// subscription is permitted at a time; opening a match cancels the
// previous session.
type Engine struct {
	messages *repository.MessageRepository
	matches  *repository.MatchRepository
	outbox   *repository.OutboxRepository
	guard    QuotaGuard
	live     LiveFeed
	redis    *cache.RedisCache
	notifier notify.Notifier
	pageSize int
	clk      clock.Clock
	log      *slog.Logger

	current *Session
}

func NewEngine(
	messages *repository.MessageRepository,
	matches *repository.MatchRepository,
	outbox *repository.OutboxRepository,
	guard QuotaGuard,
	live LiveFeed,
	redisCache *cache.RedisCache,
	notifier notify.Notifier,
	pageSize int,
	clk clock.Clock,
	log *slog.Logger,
) *Engine {
	return &Engine{
		messages: messages,
		matches:  matches,
		outbox:   outbox,
		guard:    guard,
		live:     live,
		redis:    redisCache,
		notifier: notifier,
		pageSize: pageSize,
		clk:      clk,
		log:      log,
	}
}

// Open switches the engine to the given match: the previous session (if
// any) is cancelled and tagged stale, the most recent page of history is
// loaded, and the live tail is subscribed past the loaded high-water mark.
func (e *Engine) Open(ctx context.Context, matchID string, userID uint64) (*Session, error) {
	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, apperr.Transient("chat.open", err)
	}
	if m == nil {
		return nil, apperr.Validation("match_id", "unknown match")
	}
	if m.UserLoID != userID && m.UserHiID != userID {
		return nil, apperr.Validation("user_id", "not a participant of this match")
	}

	if e.current != nil {
		e.closeSession(e.current)
	}

	s := newSession(matchID, userID)
	e.current = s

	page, err := e.messages.PageBefore(ctx, matchID, 0, e.pageSize)
	if err != nil {
		return nil, apperr.Transient("chat.initial_load", err)
	}
	// Descending fetch, reversed into display order by ingest ordering.
	for i := len(page) - 1; i >= 0; i-- {
		s.ingest(page[i])
	}

	// The high-water mark scopes the tail even when the latest page was
	// empty or partial.
	if hw, err := e.messages.MaxSeq(ctx, matchID); err == nil && hw > s.HighWater() {
		s.mu.Lock()
		s.highWater = hw
		s.mu.Unlock()
	}

	sub, err := e.live.Subscribe(ctx, matchID, s.HighWater())
	if err != nil {
		return nil, apperr.Transient("chat.subscribe", err)
	}
	s.sub = sub

	go func() {
		for msg := range sub.Events() {
			if !s.ingest(msg) {
				e.log.Debug("dropped live message", "match_id", msg.MatchID, "message_id", msg.ID)
			}
		}
	}()

	s.setState(StateLive)
	return s, nil
}

func (e *Engine) closeSession(s *Session) {
	s.markStale()
	if s.sub != nil {
		s.sub.Close()
	}
	s.setState(StateIdle)
}

// Close tears down the active session, if any.
func (e *Engine) Close() {
	if e.current != nil {
		e.closeSession(e.current)
		e.current = nil
	}
}

// PageOlder loads the next page of history older than the oldest loaded
// message and returns an opaque cursor for the page after that. An empty
// next cursor means history is exhausted.
func (e *Engine) PageOlder(ctx context.Context, s *Session) (string, error) {
	if s.stale.Load() {
		return "", apperr.Validation("session", "session is closed")
	}

	s.mu.Lock()
	before := s.oldestSeq
	s.mu.Unlock()

	s.setState(StatePaginating)
	// A session closed mid-pagination stays idle; only a live session gets
	// its state restored.
	defer func() {
		if !s.stale.Load() {
			s.setState(StateLive)
		}
	}()

	page, err := e.messages.PageBefore(ctx, s.MatchID, before, e.pageSize)
	if err != nil {
		return "", apperr.Transient("chat.paginate", err)
	}
	for _, msg := range page {
		s.ingest(msg)
	}

	if len(page) < e.pageSize {
		return "", nil
	}
	token, err := pagination.Encode(pagination.Cursor{Seq: page[len(page)-1].Seq})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Send posts a message to the session's match. An optimistic entry keyed
// by a fresh local id is shown immediately; on confirmed delivery it is
// reconciled with the confirmed row, on transient failure it stays while
// the outbox retries in the background.
func (e *Engine) Send(ctx context.Context, s *Session, body string) (SendResult, error) {
	localID := uuid.NewString()

	optimistic := db.Message{
		ID:       localID,
		MatchID:  s.MatchID,
		SenderID: s.UserID,
		Body:     body,
		LocalID:  localID,
		SentAt:   e.clk.Now(),
	}
	s.addOptimistic(optimistic)

	res, err := e.Post(ctx, s.MatchID, s.UserID, body, localID)
	if err != nil {
		s.mu.Lock()
		s.dropOptimisticLocked(localID)
		s.mu.Unlock()
		return SendResult{}, err
	}
	if res.Queued {
		return SendResult{Message: optimistic, Queued: true, LocalID: localID}, nil
	}

	// Reconcile the optimistic entry with the confirmed row.
	s.ingest(res.Message)
	return res, nil
}

// Post is the stateless outbound path, also used by the HTTP gateway: it
// passes the message quota, verifies the match is active, and attempts
// immediate delivery; on transient store failure the message is staged in
// the outbox and the result is marked queued instead of returning an
// error.
func (e *Engine) Post(ctx context.Context, matchID string, senderID uint64, body, localID string) (SendResult, error) {
	if body == "" {
		return SendResult{}, apperr.Validation("body", "must not be empty")
	}
	if len(body) > 2048 {
		return SendResult{}, apperr.Validation("body", "too long")
	}
	if localID == "" {
		localID = uuid.NewString()
	}

	if err := e.guard.Allow(ctx, senderID, ratelimit.ActionMessage); err != nil {
		return SendResult{}, err
	}

	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return SendResult{}, apperr.Transient("chat.send", err)
	}
	if m == nil || !m.Active {
		return SendResult{}, apperr.Validation("match_id", "match is not active")
	}
	if m.UserLoID != senderID && m.UserHiID != senderID {
		return SendResult{}, apperr.Validation("user_id", "not a participant of this match")
	}

	receiver := m.UserLoID
	if receiver == senderID {
		receiver = m.UserHiID
	}

	now := e.clk.Now()
	confirmed := db.Message{
		ID:         uuid.NewString(),
		MatchID:    matchID,
		SenderID:   senderID,
		ReceiverID: receiver,
		Body:       body,
		LocalID:    localID,
		SentAt:     now,
	}
	if err := e.messages.Append(ctx, &confirmed); err != nil {
		// Degraded path: stage durably and let the worker retry.
		entry := db.OutboxEntry{
			LocalID:     localID,
			MatchID:     matchID,
			SenderID:    senderID,
			ReceiverID:  receiver,
			Body:        body,
			Status:      db.OutboxPending,
			NextRetryAt: now,
		}
		if qerr := e.outbox.Enqueue(ctx, &entry); qerr != nil {
			return SendResult{}, apperr.Transient("chat.enqueue", qerr)
		}
		e.log.Warn("send deferred to outbox", "match_id", matchID, "local_id", localID, "err", err)
		return SendResult{Queued: true, LocalID: localID}, nil
	}

	if err := e.messages.MarkDelivered(ctx, confirmed.ID, e.clk.Now()); err == nil {
		at := e.clk.Now()
		confirmed.DeliveredAt = &at
	}

	e.bumpUnread(ctx, receiver)
	e.notifier.Notify(notify.NewEvent(notify.KindMessageSent, matchID, now, senderID, receiver))

	return SendResult{Message: confirmed, LocalID: localID}, nil
}

// RetryFailed re-arms a permanently failed outbox entry after an explicit
// user action.
func (e *Engine) RetryFailed(ctx context.Context, localID string) error {
	if err := e.outbox.Requeue(ctx, localID, e.clk.Now()); err != nil {
		return apperr.Transient("chat.retry", err)
	}
	return nil
}

// MarkViewed stamps every unread message addressed to the user in the
// match in one batch, then drops the cached unread counter so the next
// read recomputes it.
func (e *Engine) MarkViewed(ctx context.Context, matchID string, userID uint64) (int64, error) {
	n, err := e.messages.MarkRead(ctx, matchID, userID, e.clk.Now())
	if err != nil {
		return 0, apperr.Transient("chat.mark_read", err)
	}
	if n > 0 {
		if err := e.redis.Del(ctx, e.redis.KeyForUnread(userID)); err != nil {
			e.log.Warn("failed to drop unread counter", "user_id", userID, "err", err)
		}
	}
	return n, nil
}

// UnreadCount returns the user's aggregate unread total, cache-first with
// a DB fallback that refills the cache.
func (e *Engine) UnreadCount(ctx context.Context, userID uint64) (int64, error) {
	key := e.redis.KeyForUnread(userID)

	if cached, _ := e.redis.Get(ctx, key); cached != "" {
		if n, err := strconv.ParseInt(cached, 10, 64); err == nil {
			return n, nil
		}
	}

	count, err := e.messages.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperr.Transient("chat.unread", err)
	}
	if err := e.redis.Set(ctx, key, strconv.FormatInt(count, 10), time.Hour); err != nil {
		e.log.Warn("failed to cache unread counter", "user_id", userID, "err", err)
	}
	return count, nil
}

func (e *Engine) bumpUnread(ctx context.Context, receiverID uint64) {
	// Invalidate instead of increment: the next UnreadCount recomputes from
	// the store, which cannot drift.
	if err := e.redis.Del(ctx, e.redis.KeyForUnread(receiverID)); err != nil {
		e.log.Warn("failed to drop unread counter", "user_id", receiverID, "err", err)
	}
}

// History is the stateless paged read used by the HTTP gateway: newest
// page first when the cursor is empty, older pages as the returned token
// is fed back in. Messages come back in display order (ascending).
func (e *Engine) History(ctx context.Context, matchID string, userID uint64, cursorToken string) ([]db.Message, string, error) {
	m, err := e.matches.Get(ctx, matchID)
	if err != nil {
		return nil, "", apperr.Transient("chat.history", err)
	}
	if m == nil {
		return nil, "", apperr.Validation("match_id", "unknown match")
	}
	if m.UserLoID != userID && m.UserHiID != userID {
		return nil, "", apperr.Validation("user_id", "not a participant of this match")
	}

	cursor, err := pagination.Decode(cursorToken)
	if err != nil {
		return nil, "", apperr.Validation("cursor", err.Error())
	}

	page, err := e.messages.PageBefore(ctx, matchID, cursor.Seq, e.pageSize)
	if err != nil {
		return nil, "", apperr.Transient("chat.history", err)
	}

	next := ""
	if len(page) == e.pageSize {
		token, terr := pagination.Encode(pagination.Cursor{Seq: page[len(page)-1].Seq})
		if terr == nil {
			next = token
		}
	}

	// reverse into display order
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, next, nil
}
