// Package notify is the boundary to the external notification dispatcher.
// Emission is at-least-once: a consumer may see the same event id twice and
// must deduplicate on it.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the engines.
const (
	KindMatchCreated = "match.created"
	KindMatchEnded   = "match.ended"
	KindMessageSent  = "message.sent"
)

type Event struct {
	ID      string
	Kind    string
	MatchID string
	UserIDs []uint64
	At      time.Time
}

// Notifier consumes engine events. Implementations must tolerate duplicate
// event ids.
type Notifier interface {
	Notify(ev Event)
}

// NewEvent stamps a fresh event id.
func NewEvent(kind, matchID string, at time.Time, userIDs ...uint64) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		MatchID: matchID,
		UserIDs: userIDs,
		At:      at,
	}
}

// Dispatcher fans events out to registered sinks.
type Dispatcher struct {
	mu    sync.RWMutex
	sinks []Notifier
}

func NewDispatcher(sinks ...Notifier) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// Register adds a sink. Safe for concurrent use.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, n)
}

func (d *Dispatcher) Notify(ev Event) {
	d.mu.RLock()
	sinks := make([]Notifier, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(ev)
	}
}

// LogSink is the default sink: it just records the event.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Notify(ev Event) {
	s.Logger.Info("event dispatched", "kind", ev.Kind, "match_id", ev.MatchID, "event_id", ev.ID)
}
