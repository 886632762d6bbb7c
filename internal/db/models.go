package db

import (
	"fmt"
	"strings"
	"time"
)

// Swipe actions. A pass is recorded, not discarded, so reversals flip the
// existing row instead of inserting a second one.
const (
	ActionLike      = "like"
	ActionSuperlike = "superlike"
	ActionPass      = "pass"
)

// Outbox entry statuses.
const (
	OutboxPending         = "pending"
	OutboxSending         = "sending"
	OutboxFailedRetryable = "failed_retryable"
	OutboxFailedPermanent = "failed_permanent"
)

// Profile is the read-only attribute feed for one user. It is owned by the
// profile-editing collaborator; the engines only ever read it.
type Profile struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	DisplayName  string `gorm:"size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Gender       string `gorm:"size:16;not null"`
	BirthYear    int
	Bio          string `gorm:"size:512"`
	// Interests is a comma-joined set, parsed once at the boundary via
	// InterestList.
	Interests    string  `gorm:"size:512"`
	Lat          float64 `gorm:"not null"`
	Lng          float64 `gorm:"not null"`
	LastActiveAt time.Time
	Completeness float64 `gorm:"default:0"`
	Verified     bool    `gorm:"default:false"`
	PhotoCount   int     `gorm:"default:0"`
	PhotoQuality float64 `gorm:"default:0"`
	// Rating is the ELO-style desirability rating, updated after swipe
	// outcomes. 1500 is the neutral starting point.
	Rating        float64   `gorm:"default:1500"`
	LikesReceived uint64    `gorm:"default:0"`
	ViewsReceived uint64    `gorm:"default:0"`
	ResponseRate  float64   `gorm:"default:0"`
	Active        bool      `gorm:"default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// InterestList parses the comma-joined interest set.
func (p *Profile) InterestList() []string {
	if p.Interests == "" {
		return nil
	}
	parts := strings.Split(p.Interests, ",")
	out := parts[:0]
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

// Decision represents an actor's like/superlike/pass decision on a target.
//
// Composite PK: (ActorID, TargetID)
//   - Ensures a single row per ordered pair (overwrite guarantee).
//
// Indexes:
//   - idx_target_active_updated(target_id, active, updated_at DESC) for
//     "who liked me" and reciprocity lookups.
type Decision struct {
	ActorID   uint64    `gorm:"primaryKey"`
	TargetID  uint64    `gorm:"primaryKey;index:idx_target_active_updated,priority:1"`
	Action    string    `gorm:"size:16;not null"`
	Active    bool      `gorm:"not null;default:true;index:idx_target_active_updated,priority:2"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index:idx_target_active_updated,priority:3,sort:desc"`
}

// Match joins an unordered user pair. The primary key is the deterministic
// pair key, so concurrent creation attempts from both sides collapse onto
// the same row.
type Match struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserLoID  uint64    `gorm:"not null;index"`
	UserHiID  uint64    `gorm:"not null;index"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// MatchKey returns the deterministic id for the unordered pair {a, b}
// together with the sorted pair.
func MatchKey(a, b uint64) (id string, lo, hi uint64) {
	lo, hi = a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("m:%d:%d", lo, hi), lo, hi
}

// Message is one conversation entry. Immutable once stored except for the
// delivery/read timestamp additions. Seq is the per-match monotonic
// ordering key used for pagination cursors and the live high-water mark.
type Message struct {
	ID          string `gorm:"primaryKey;size:36"`
	MatchID     string `gorm:"size:64;not null;uniqueIndex:idx_match_seq,priority:1;index:idx_match_receiver_read,priority:1"`
	Seq         uint64 `gorm:"not null;uniqueIndex:idx_match_seq,priority:2"`
	SenderID    uint64 `gorm:"not null"`
	ReceiverID  uint64 `gorm:"not null;index:idx_match_receiver_read,priority:2"`
	Body        string `gorm:"size:2048;not null"`
	LocalID     string `gorm:"size:36;index"`
	SentAt      time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time `gorm:"index:idx_match_receiver_read,priority:3"`
}

// OutboxEntry is a durable staging record for an outbound message that
// could not be confirmed yet. LocalID is client-generated so the optimistic
// conversation entry can be reconciled with the confirmed message.
type OutboxEntry struct {
	LocalID     string `gorm:"primaryKey;size:36"`
	MatchID     string `gorm:"size:64;not null;index:idx_outbox_match_created,priority:1"`
	SenderID    uint64 `gorm:"not null"`
	ReceiverID  uint64 `gorm:"not null"`
	Body        string `gorm:"size:2048;not null"`
	Attempts    int    `gorm:"default:0"`
	NextRetryAt time.Time
	Status      string    `gorm:"size:24;not null;index"`
	LastError   string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_outbox_match_created,priority:2"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}
