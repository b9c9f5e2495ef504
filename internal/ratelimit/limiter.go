// Package ratelimit provides an in-memory sliding-window rate limiter for
// per-connection message throttling. Each identifier keeps the timestamps of
// its recent actions; an action is allowed while fewer than Limit timestamps
// fall inside the trailing Window.
package ratelimit

import (
	"sync"
	"time"
)

// Rule defines a rate limiting policy: maximum number of actions allowed in
// the trailing window.
type Rule struct {
	Limit  int           // max count in the window
	Window time.Duration // trailing window duration
}

// Limiter performs sliding-window rate limiting keyed by an arbitrary
// identifier (typically a connection ID).
type Limiter struct {
	rule Rule

	mu    sync.Mutex
	times map[string][]time.Time

	now func() time.Time // overridable for tests
}

// NewLimiter creates a Limiter enforcing the given rule.
func NewLimiter(rule Rule) *Limiter {
	return &Limiter{
		rule:  rule,
		times: make(map[string][]time.Time),
		now:   time.Now,
	}
}

// Allow records an action for the identifier and reports whether it is within
// the limit. Timestamps older than the window are discarded first, so the
// check is an exact trailing-window count.
func (l *Limiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.rule.Window)

	kept := l.times[identifier][:0]
	for _, t := range l.times[identifier] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.times[identifier] = kept

	return len(kept) <= l.rule.Limit
}

// Remaining returns how many actions the identifier has left in the current
// window without recording anything.
func (l *Limiter) Remaining(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.rule.Window)
	count := 0
	for _, t := range l.times[identifier] {
		if t.After(cutoff) {
			count++
		}
	}

	remaining := l.rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Forget drops all state for an identifier. Called when a connection goes
// away so the map does not grow unbounded.
func (l *Limiter) Forget(identifier string) {
	l.mu.Lock()
	delete(l.times, identifier)
	l.mu.Unlock()
}
