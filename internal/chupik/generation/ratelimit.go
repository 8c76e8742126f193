package generation

import (
	"sync"
	"time"
)

const (
	// DefaultSenderLimit is the number of escalations one sender may cause
	// per window when no explicit limit is configured.
	DefaultSenderLimit = 20

	defaultSenderWindow = time.Minute
)

// SenderLimiter is a per-sender sliding-window limit on escalations. It keeps
// the call times inside the window for each sender and prunes stale entries
// on every check, so memory stays bounded by the limit per active sender.
//
// SenderLimiter is safe for concurrent use.
type SenderLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  map[string][]time.Time
}

// NewSenderLimiter allows at most limit calls per sender within window.
// Non-positive arguments select DefaultSenderLimit and one minute.
func NewSenderLimiter(limit int, window time.Duration) *SenderLimiter {
	if limit <= 0 {
		limit = DefaultSenderLimit
	}
	if window <= 0 {
		window = defaultSenderWindow
	}
	return &SenderLimiter{
		limit:  limit,
		window: window,
		calls:  make(map[string][]time.Time),
	}
}

// AllowAt reports whether senderID may escalate at now, and records the call
// when it may.
func (l *SenderLimiter) AllowAt(senderID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(senderID, now)
	if len(valid) >= l.limit {
		return false
	}
	l.calls[senderID] = append(valid, now)
	return true
}

// RemainingAt returns how many calls senderID has left in the window ending
// at now.
func (l *SenderLimiter) RemainingAt(senderID string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rem := l.limit - len(l.prune(senderID, now)); rem > 0 {
		return rem
	}
	return 0
}

// prune drops timestamps outside the window. Must be called with l.mu held.
func (l *SenderLimiter) prune(senderID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	existing := l.calls[senderID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.calls, senderID)
		return nil
	}
	l.calls[senderID] = valid
	return valid
}
