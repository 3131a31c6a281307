package authserver

import (
	"sync"
	"time"
)

const (
	// provisioningAttempts and provisioningWindow bound app-password
	// provisioning to 5 attempts per user per hour.
	provisioningAttempts = 5
	provisioningWindow   = time.Hour
)

// rateLimiter is a process-local sliding window keyed by user id. Entries
// older than the window are pruned on access.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for the user. When the window is exhausted it
// returns false and the seconds until the oldest attempt ages out.
func (l *rateLimiter) Allow(userID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	kept := l.attempts[userID][:0]
	for _, t := range l.attempts[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.attempts[userID] = kept
		retryAfter := int(kept[0].Add(l.window).Sub(now).Seconds()) + 1
		return false, retryAfter
	}

	l.attempts[userID] = append(kept, now)
	return true, 0
}
