package scheduler

import "sync"

// Locks hands out one mutex per conversation, created on first use. Entries
// are never removed; the set of conversations an agent sits in is small.
type Locks struct {
	mu   sync.Mutex
	byID map[string]*sync.Mutex
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{byID: make(map[string]*sync.Mutex)}
}

// Lock blocks until the conversation's mutex is held and returns the
// function that releases it.
func (l *Locks) Lock(conversationID string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.byID[conversationID]
	if !ok {
		m = &sync.Mutex{}
		l.byID[conversationID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Len returns how many conversations have a lock.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}
