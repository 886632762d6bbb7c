// Package retry holds the backoff policy shared by background workers.
package retry

import (
	"math"
	"time"
)

// Policy computes exponential delays: Base, Base*2, Base*4, ... capped at
// MaxDelay, for at most MaxAttempts tries.
type Policy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the outbox worker defaults: 2s base, 1m cap,
// 5 attempts before an entry is marked permanently failed.
func DefaultPolicy() Policy {
	return Policy{Base: 2 * time.Second, MaxDelay: time.Minute, MaxAttempts: 5}
}

// Delay returns the wait before the given attempt (1-based). Attempt 1
// waits Base; attempts at or past MaxAttempts still return the capped delay
// so callers can decide exhaustion via Exhausted.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(p.Base) * mult)
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether the attempt count has used up the policy.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
