package generation

import (
	"sync"
	"time"
)

// DefaultTokenBudget is the daily token allowance per key when none is
// configured.
const DefaultTokenBudget = 50_000

// TokenBudget meters generation tokens per key (normally a conversation) per
// UTC day. Check AllowAt before a call and RecordAt after it; the counter
// rolls over at midnight UTC or when Reset is called.
//
// TokenBudget is safe for concurrent use.
type TokenBudget struct {
	mu     sync.Mutex
	budget int
	usage  map[string]*dailyUsage
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewTokenBudget allows dailyBudget tokens per key per day. Non-positive
// values select DefaultTokenBudget.
func NewTokenBudget(dailyBudget int) *TokenBudget {
	if dailyBudget <= 0 {
		dailyBudget = DefaultTokenBudget
	}
	return &TokenBudget{budget: dailyBudget, usage: make(map[string]*dailyUsage)}
}

// Budget returns the configured daily allowance.
func (b *TokenBudget) Budget() int { return b.budget }

// AllowAt reports whether key still has tokens left today. It does not
// consume anything.
func (b *TokenBudget) AllowAt(key string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.current(key, now)
	return u == nil || u.tokens < b.budget
}

// RecordAt adds tokens to key's total for the day containing now.
func (b *TokenBudget) RecordAt(key string, tokens int, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.current(key, now)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnightUTC(now)}
		b.usage[key] = u
	}
	u.tokens += tokens
}

// UsedAt returns the tokens key has consumed today.
func (b *TokenBudget) UsedAt(key string, now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if u := b.current(key, now); u != nil {
		return u.tokens
	}
	return 0
}

// Reset clears every counter. The daily maintenance loop calls it at
// midnight.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.usage)
}

// current returns key's counter, dropping it first if the day rolled over.
// Must be called with b.mu held.
func (b *TokenBudget) current(key string, now time.Time) *dailyUsage {
	u := b.usage[key]
	if u == nil {
		return nil
	}
	if !now.UTC().Before(u.resetAt) {
		delete(b.usage, key)
		return nil
	}
	return u
}

func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
