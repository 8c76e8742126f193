// Package memory holds the bounded, expiring per-conversation message
// history together with the counters that throttle proactive interventions.
package memory

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// Capacity is the maximum number of messages kept per conversation.
	// When exceeded, the oldest messages are dropped. Default: 40.
	Capacity int

	// Expiration is the inactivity gap after which a conversation's history
	// is cleared on the next read or write. Default: 20 minutes.
	Expiration time.Duration

	// MaxUnanswered stops proactive interventions once this many of them
	// went without a user reply. Default: 3.
	MaxUnanswered int

	// UnansweredPenalty scales down the intervention probability for each
	// unanswered intervention: p * (1 - penalty*unanswered). Default: 0.3.
	UnansweredPenalty float64

	// ProactiveInterval is the minimum gap between two agent messages sent
	// without being addressed. Default: 5 minutes.
	ProactiveInterval time.Duration

	// Rand returns a float in [0, 1). Default: math/rand/v2.Float64.
	Rand func() float64
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:          40,
		Expiration:        20 * time.Minute,
		MaxUnanswered:     3,
		UnansweredPenalty: 0.3,
		ProactiveInterval: 5 * time.Minute,
		Rand:              rand.Float64,
	}
}

// Store owns the ConversationState of every known conversation.
// It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	config Config
	convos map[string]*ConversationState
}

// NewStore creates a Store, filling zero-valued config fields with defaults.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = def.Expiration
	}
	if cfg.MaxUnanswered <= 0 {
		cfg.MaxUnanswered = def.MaxUnanswered
	}
	if cfg.UnansweredPenalty <= 0 {
		cfg.UnansweredPenalty = def.UnansweredPenalty
	}
	if cfg.ProactiveInterval <= 0 {
		cfg.ProactiveInterval = def.ProactiveInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = def.Rand
	}
	return &Store{
		config: cfg,
		convos: make(map[string]*ConversationState),
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Append stores msg in the conversation's history. msg.Timestamp is taken
// as the current time; a zero timestamp is replaced by time.Now().
//
// A user message bumps the pending counter and marks every earlier
// intervention as answered. An agent message records LastBotMessageAt.
func (s *Store) Append(conversationID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	now := msg.Timestamp

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrCreateLocked(conversationID)
	s.expireLocked(c, now)

	c.Messages = append(c.Messages, msg)
	c.LastInteractionAt = now

	switch msg.Role {
	case RoleUser:
		c.PendingCounter++
		c.UnansweredBotMessages = 0
	default:
		c.LastBotMessageAt = now
	}

	if len(c.Messages) > s.config.Capacity {
		excess := len(c.Messages) - s.config.Capacity
		c.Messages = append([]Message(nil), c.Messages[excess:]...)
	}
}

// History returns a copy of the conversation's messages as of now, oldest
// first. An expired history is cleared before it is read.
func (s *Store) History(conversationID string, now time.Time) []Message {
	return s.Recent(conversationID, 0, now)
}

// Recent returns at most the last n messages (all when n <= 0).
func (s *Store) Recent(conversationID string, n int, now time.Time) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convos[conversationID]
	if c == nil {
		return nil
	}
	s.expireLocked(c, now)

	msgs := c.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Snapshot returns a deep copy of the conversation state as of now.
func (s *Store) Snapshot(conversationID string, now time.Time) (ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convos[conversationID]
	if c == nil {
		return ConversationState{}, false
	}
	s.expireLocked(c, now)

	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return cp, true
}

// ShouldIntervene decides whether the agent may speak up unprompted.
//
// It refuses while fewer than minDelay user messages arrived since the last
// intervention, and once MaxUnanswered interventions were ignored. Otherwise
// it rolls against probability reduced by the unanswered penalty. A
// successful roll resets the pending counter and counts one more unanswered
// intervention.
func (s *Store) ShouldIntervene(conversationID string, probability float64, minDelay int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convos[conversationID]
	if c == nil || c.PendingCounter < minDelay {
		return false
	}
	if c.UnansweredBotMessages >= s.config.MaxUnanswered {
		return false
	}

	adjusted := probability * (1 - float64(c.UnansweredBotMessages)*s.config.UnansweredPenalty)
	if s.config.Rand() < adjusted {
		c.PendingCounter = 0
		c.UnansweredBotMessages++
		return true
	}
	return false
}

// CanSendProactive reports whether at least ProactiveInterval has passed
// since the last agent message.
func (s *Store) CanSendProactive(conversationID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convos[conversationID]
	if c == nil || c.LastBotMessageAt.IsZero() {
		return true
	}
	return now.Sub(c.LastBotMessageAt) >= s.config.ProactiveInterval
}

// SilenceDuration returns the time elapsed since the last interaction, or
// zero for an unknown conversation. It does not expire the history.
func (s *Store) SilenceDuration(conversationID string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convos[conversationID]
	if c == nil || c.LastInteractionAt.IsZero() {
		return 0
	}
	return now.Sub(c.LastInteractionAt)
}

// TouchInteraction moves LastInteractionAt to now without storing a
// message. Silence revival calls it before generating so that slow
// generation cannot re-trigger the same revival.
func (s *Store) TouchInteraction(conversationID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.convos[conversationID]; c != nil {
		c.LastInteractionAt = now
	}
}

// Clear drops the conversation's messages. Counters and timestamps are kept.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.convos[conversationID]; c != nil {
		c.Messages = nil
	}
}

// Conversations returns the ids of every known conversation, sorted.
func (s *Store) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.convos))
	for id := range s.convos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convos)
}

func (s *Store) getOrCreateLocked(conversationID string) *ConversationState {
	c := s.convos[conversationID]
	if c == nil {
		c = &ConversationState{ID: conversationID}
		s.convos[conversationID] = c
	}
	return c
}

// expireLocked clears the history when the conversation has been idle for
// longer than Expiration. Must be called with mu held.
func (s *Store) expireLocked(c *ConversationState, now time.Time) {
	if c.LastInteractionAt.IsZero() || len(c.Messages) == 0 {
		return
	}
	if now.Sub(c.LastInteractionAt) > s.config.Expiration {
		c.Messages = nil
	}
}
