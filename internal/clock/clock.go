// Package clock abstracts wall time so retry scheduling and window math
// can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and timed waits.
type Clock interface {
	Now() time.Time
	// After behaves like time.After for the system clock; the manual clock
	// fires pending waiters when advanced.
	After(d time.Duration) <-chan time.Time
}

// System is the real clock.
type System struct{}

func NewSystem() *System { return &System{} }

func (*System) Now() time.Time { return time.Now().UTC() }

func (*System) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manual is a deterministic clock for tests. Time only moves when Advance
// is called; waiters registered via After fire once the clock passes their
// deadline.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManual creates a manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := m.now.Add(d)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward and fires any waiters that came due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	due := m.fireDueLocked()
	m.mu.Unlock()
	for _, w := range due {
		w.ch <- m.now
	}
}

func (m *Manual) fireDueLocked() []waiter {
	var due, rest []waiter
	for _, w := range m.waiters {
		if !w.at.After(m.now) {
			due = append(due, w)
		} else {
			rest = append(rest, w)
		}
	}
	m.waiters = rest
	return due
}
