// Package ratelimit bounds how often each widget may run an operation using a
// sliding time window kept per widget id.
package ratelimit

import (
	"sync"
	"time"
)

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter counts calls per id over a trailing window.
// Windows are independent; there is no cap across ids.
type Limiter struct {
	maxOps  int
	window  time.Duration
	now     func() time.Time
	mu      sync.Mutex
	windows map[string][]time.Time
}

// New creates a limiter allowing maxOps calls per id within window
func New(maxOps int, window time.Duration, opts ...Option) *Limiter {
	if maxOps < 0 {
		maxOps = 0
	}
	l := &Limiter{
		maxOps:  maxOps,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether id may perform another operation now.
// An allowed call is recorded; a denied call is not.
func (l *Limiter) Check(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(id, now)
	if len(stamps) >= l.maxOps {
		return false
	}
	l.windows[id] = append(stamps, now)
	return true
}

// Reset clears the window for id
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

// Remaining returns how many more calls id may make in the current window
func (l *Limiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.maxOps - len(l.prune(id, l.now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MaxOps returns the configured per-window budget
func (l *Limiter) MaxOps() int {
	return l.maxOps
}

// Window returns the configured window length
func (l *Limiter) Window() time.Duration {
	return l.window
}

// prune drops timestamps at or before now-window. Must be called with l.mu held.
func (l *Limiter) prune(id string, now time.Time) []time.Time {
	stamps := l.windows[id]
	cutoff := now.Add(-l.window)

	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	stamps = stamps[keep:]

	if len(stamps) == 0 {
		delete(l.windows, id)
		return nil
	}
	l.windows[id] = stamps
	return stamps
}
