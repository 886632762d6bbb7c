package chat

import (
	"sync"
	"sync/atomic"

	"github.com/kindled-app/kindled/internal/db"
)

// State of a conversation session.
type State int

const (
	StateIdle State = iota
	StateLoadingInitial
	StateLive
	StatePaginating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingInitial:
		return "loading_initial"
	case StateLive:
		return "live"
	case StatePaginating:
		return "paginating"
	}
	return "unknown"
}

// Session is the per-match conversation view: the displayed message
// sequence, the seen-id dedup set, the pagination cursor and the live
// high-water mark. It is owned by one Engine and mutated only through it.
type Session struct {
	MatchID string
	UserID  uint64

	mu    sync.Mutex
	state State
	// displayed sequence: confirmed messages ascending by Seq, then any
	// optimistic entries in send order.
	confirmed  []db.Message
	optimistic []db.Message
	seen       map[string]struct{}
	oldestSeq  uint64
	highWater  uint64

	stale atomic.Bool
	sub   Subscription
}

func newSession(matchID string, userID uint64) *Session {
	return &Session{
		MatchID: matchID,
		UserID:  userID,
		state:   StateLoadingInitial,
		seen:    make(map[string]struct{}),
	}
}

// State returns the session's current sync state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the displayed sequence: confirmed history in
// ordering-key order followed by unconfirmed optimistic entries.
func (s *Session) Messages() []db.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Message, 0, len(s.confirmed)+len(s.optimistic))
	out = append(out, s.confirmed...)
	out = append(out, s.optimistic...)
	return out
}

// HighWater returns the ordering key recorded at subscription start.
func (s *Session) HighWater() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater
}

// ingest adds one inbound message to the displayed sequence. It is the
// single chokepoint for initial load, pagination and the live tail, so the
// O(1) dedup check covers every path. A message echoing a known local id
// replaces the optimistic entry instead of appending a duplicate.
// Returns false if the message was dropped (duplicate or stale session).
func (s *Session) ingest(msg db.Message) bool {
	if s.stale.Load() || msg.MatchID != s.MatchID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}

	if msg.LocalID != "" {
		s.dropOptimisticLocked(msg.LocalID)
	}

	s.insertConfirmedLocked(msg)
	if msg.Seq > s.highWater {
		s.highWater = msg.Seq
	}
	if s.oldestSeq == 0 || msg.Seq < s.oldestSeq {
		s.oldestSeq = msg.Seq
	}
	return true
}

// insertConfirmedLocked keeps the confirmed slice ordered by Seq. Live
// messages land at the end; paged history lands at the front; anything else
// is a rare out-of-order delivery.
func (s *Session) insertConfirmedLocked(msg db.Message) {
	n := len(s.confirmed)
	if n == 0 || s.confirmed[n-1].Seq < msg.Seq {
		s.confirmed = append(s.confirmed, msg)
		return
	}
	if s.confirmed[0].Seq > msg.Seq {
		s.confirmed = append([]db.Message{msg}, s.confirmed...)
		return
	}
	i := 0
	for i < n && s.confirmed[i].Seq < msg.Seq {
		i++
	}
	s.confirmed = append(s.confirmed, db.Message{})
	copy(s.confirmed[i+1:], s.confirmed[i:])
	s.confirmed[i] = msg
}

func (s *Session) addOptimistic(msg db.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimistic = append(s.optimistic, msg)
}

func (s *Session) dropOptimisticLocked(localID string) {
	for i, m := range s.optimistic {
		if m.LocalID == localID {
			s.optimistic = append(s.optimistic[:i], s.optimistic[i+1:]...)
			return
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// markStale tags the session so in-flight callbacks from its subscription
// are discarded. Called when the client switches matches.
func (s *Session) markStale() {
	s.stale.Store(true)
}
