// Package ratelimit implements spec.md §4.7: single-flight confirmation
// dialogs, a post-denial cooldown, and a sliding-window attempt count for
// prod token requests. It never blocks; Acquire returns a decision
// instantly.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"si/tools/authcalator/internal/clock"
)

// Result is the outcome a caller reports back via Release.
type Result string

const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

const (
	DefaultCooldown    = 5 * time.Second
	DefaultWindow       = 60 * time.Second
	DefaultMaxAttempts = 5
)

// Decision is what Acquire returns.
type Decision struct {
	Allowed bool
	Reason  string // set only when Allowed is false
}

// Limiter holds the process-local rate-limit state from spec.md §3: an
// in-flight flag, a cooldown deadline, and a bounded sliding window of
// attempt timestamps. Safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	clock       clock.Clock
	cooldown    time.Duration
	window      time.Duration
	maxAttempts int

	inFlight      bool
	cooldownUntil time.Time
	attempts      []time.Time
}

// New returns a Limiter with spec.md's defaults (5s cooldown, 60s window,
// 5 max attempts) using clk as its time source.
func New(clk clock.Clock) *Limiter {
	return NewWithTunables(clk, DefaultCooldown, DefaultWindow, DefaultMaxAttempts)
}

// NewWithTunables returns a Limiter with custom tunables, for tests and
// operators who need a different policy.
func NewWithTunables(clk clock.Clock, cooldown, window time.Duration, maxAttempts int) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		clock:       clk,
		cooldown:    cooldown,
		window:      window,
		maxAttempts: maxAttempts,
	}
}

// Acquire returns allowed=true iff: no dialog is currently in flight, no
// post-denial cooldown is active, and the sliding window has not reached
// its cap. On success it records the attempt and marks a dialog in flight;
// the caller must call Release exactly once afterward.
func (l *Limiter) Acquire() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	if l.inFlight {
		return Decision{Allowed: false, Reason: "already pending"}
	}
	if now.Before(l.cooldownUntil) {
		remaining := int(math.Ceil(l.cooldownUntil.Sub(now).Seconds()))
		return Decision{Allowed: false, Reason: fmt.Sprintf("retry in %ds", remaining)}
	}

	l.pruneLocked(now)
	if len(l.attempts) >= l.maxAttempts {
		minutes := int(math.Round(l.window.Minutes()))
		if minutes <= 0 {
			minutes = 1
		}
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("Rate limit exceeded: max %d attempts per %d minutes", l.maxAttempts, minutes),
		}
	}

	l.attempts = append(l.attempts, now)
	l.inFlight = true
	return Decision{Allowed: true}
}

// Release clears the in-flight flag. If result is ResultDenied, a new
// cooldown window begins; granted/error results leave the cooldown alone.
func (l *Limiter) Release(result Result) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight = false
	if result == ResultDenied {
		l.cooldownUntil = l.clock.Now().Add(l.cooldown)
	}
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.attempts[:0]
	for _, t := range l.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.attempts = kept
}
