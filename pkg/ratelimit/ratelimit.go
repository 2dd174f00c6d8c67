package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Error reports a rejected send and when the caller may retry.
type Error struct {
	RetryAfter time.Duration
	Count      int
	Limit      int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d messages, retry in %s", e.Count, e.Limit, e.RetryAfter.Round(time.Millisecond))
}

// Admission describes an allowed send, for X-RateLimit-* headers.
type Admission struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Stats is a read-only snapshot of one session's window.
type Stats struct {
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type spacer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces a per-session sliding window plus a minimum interval
// between consecutive sends. The window rejects, the interval delays.
type Limiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	minInterval time.Duration
	windows     map[string][]time.Time
	spacers     map[string]*spacer

	now func() time.Time
}

func New(limit int, window, minInterval time.Duration) *Limiter {
	return &Limiter{
		limit:       limit,
		window:      window,
		minInterval: minInterval,
		windows:     make(map[string][]time.Time),
		spacers:     make(map[string]*spacer),
		now:         time.Now,
	}
}

func (l *Limiter) prune(sessionID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	timestamps := l.windows[sessionID]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.windows[sessionID] = kept
	return kept
}

// Acquire admits or rejects a send against the sliding window. An
// admitted send is recorded immediately.
func (l *Limiter) Acquire(sessionID string) (*Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	timestamps := l.prune(sessionID, now)

	if len(timestamps) >= l.limit {
		return nil, &Error{
			RetryAfter: timestamps[0].Add(l.window).Sub(now),
			Count:      len(timestamps),
			Limit:      l.limit,
		}
	}

	timestamps = append(timestamps, now)
	l.windows[sessionID] = timestamps
	return &Admission{
		Limit:     l.limit,
		Remaining: l.limit - len(timestamps),
		ResetAt:   timestamps[0].Add(l.window),
	}, nil
}

// Wait blocks until the session's minimum send interval has elapsed, so
// back-to-back sends are spaced rather than rejected.
func (l *Limiter) Wait(ctx context.Context, sessionID string) error {
	if l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	entry, ok := l.spacers[sessionID]
	if !ok {
		entry = &spacer{limiter: rate.NewLimiter(rate.Every(l.minInterval), 1)}
		l.spacers[sessionID] = entry
	}
	entry.lastSeen = l.now()
	l.mu.Unlock()

	return entry.limiter.Wait(ctx)
}

func (l *Limiter) Stats(sessionID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	timestamps := l.prune(sessionID, now)

	stats := Stats{
		Count:     len(timestamps),
		Limit:     l.limit,
		Remaining: l.limit - len(timestamps),
	}
	if len(timestamps) > 0 {
		stats.ResetAt = timestamps[0].Add(l.window)
	}
	return stats
}

// Clear drops all state for a session, used when the session is
// destroyed.
func (l *Limiter) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionID)
	delete(l.spacers, sessionID)
}

// Cleanup removes sessions whose window is empty and spacing state not
// used for over an hour. Meant to run periodically.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for sessionID := range l.windows {
		if len(l.prune(sessionID, now)) == 0 {
			delete(l.windows, sessionID)
			removed++
		}
	}
	for sessionID, entry := range l.spacers {
		if now.Sub(entry.lastSeen) > time.Hour {
			delete(l.spacers, sessionID)
		}
	}
	return removed
}
