// Package mood keeps a slow-moving affect signal per conversation. The score
// decays toward neutral as time passes, is nudged by detected sentiment, and
// is turned into a tone directive for escalated replies.
package mood

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sentiment is the coarse emotion detected in a message.
type Sentiment string

const (
	SentimentNone Sentiment = ""
	Joy           Sentiment = "joy"
	Sadness       Sentiment = "sadness"
	Anger         Sentiment = "anger"
)

// Score and energy bounds.
const (
	MinScore      = -10.0
	MaxScore      = 10.0
	MinEnergy     = 0.0
	MaxEnergy     = 10.0
	restingEnergy = 5.0
)

// State is the stored mood of one conversation.
type State struct {
	Score         float64   `json:"score"`
	Energy        float64   `json:"energy"`
	MessageCount  int       `json:"message_count"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Config tunes the decay and fatigue mechanics.
type Config struct {
	// DecayPerFiveMinutes is how far the score moves toward zero for every
	// five minutes since the last update. Default: 0.5.
	DecayPerFiveMinutes float64
	// RegenPerHalfHour is how much energy below the resting level (5)
	// recovers per thirty minutes. Default: 5.
	RegenPerHalfHour float64
	// FatigueEvery costs one energy point every N processed messages.
	// Default: 50.
	FatigueEvery int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DecayPerFiveMinutes: 0.5,
		RegenPerHalfHour:    5,
		FatigueEvery:        50,
	}
}

// Saver persists the full mood document after every mutation.
type Saver interface {
	Save(ctx context.Context, name string, v any) error
}

// SnapshotName is the name of the persisted mood document.
const SnapshotName = "moods"

// Engine owns the mood state of every conversation. It is safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	config Config
	states map[string]*State
	saver  Saver
}

// NewEngine creates an Engine. saver may be nil, in which case nothing is
// persisted.
func NewEngine(cfg Config, saver Saver) *Engine {
	def := DefaultConfig()
	if cfg.DecayPerFiveMinutes <= 0 {
		cfg.DecayPerFiveMinutes = def.DecayPerFiveMinutes
	}
	if cfg.RegenPerHalfHour <= 0 {
		cfg.RegenPerHalfHour = def.RegenPerHalfHour
	}
	if cfg.FatigueEvery <= 0 {
		cfg.FatigueEvery = def.FatigueEvery
	}
	return &Engine{
		config: cfg,
		states: make(map[string]*State),
		saver:  saver,
	}
}

// Restore replaces all states with a previously persisted document.
func (e *Engine) Restore(states map[string]State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.states = make(map[string]*State, len(states))
	for id, st := range states {
		st.Score = clamp(st.Score, MinScore, MaxScore)
		st.Energy = clamp(st.Energy, MinEnergy, MaxEnergy)
		e.states[id] = &st
	}
}

// Apply runs one decay-then-apply step for the conversation: decay for the
// time elapsed since the last update, the sentiment delta, then the fatigue
// check. It returns the resulting state.
func (e *Engine) Apply(ctx context.Context, conversationID string, s Sentiment, now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.getOrCreateLocked(conversationID, now)
	e.decay(st, now)

	switch s {
	case Joy:
		st.Score = clamp(st.Score+1, MinScore, MaxScore)
		st.Energy = clamp(st.Energy+0.5, MinEnergy, MaxEnergy)
	case Sadness:
		st.Score = clamp(st.Score-1, MinScore, MaxScore)
		st.Energy = clamp(st.Energy-0.5, MinEnergy, MaxEnergy)
	case Anger:
		st.Score = clamp(st.Score-0.5, MinScore, MaxScore)
		st.Energy = clamp(st.Energy+1, MinEnergy, MaxEnergy)
	}

	st.LastUpdatedAt = now
	st.MessageCount++
	if st.MessageCount >= e.config.FatigueEvery {
		st.Energy = clamp(st.Energy-1, MinEnergy, MaxEnergy)
		st.MessageCount = 0
	}

	e.persistLocked(ctx)
	return *st
}

// decay moves the score toward zero without crossing it and regenerates
// energy below the resting level.
func (e *Engine) decay(st *State, now time.Time) {
	minutes := now.Sub(st.LastUpdatedAt).Minutes()
	if minutes <= 0 {
		return
	}

	amount := minutes / 5 * e.config.DecayPerFiveMinutes
	switch {
	case st.Score > 0:
		st.Score = max(st.Score-amount, 0)
	case st.Score < 0:
		st.Score = min(st.Score+amount, 0)
	}

	if st.Energy < restingEnergy {
		st.Energy = min(st.Energy+minutes/30*e.config.RegenPerHalfHour, restingEnergy)
	}
}

// State returns the stored state of the conversation, creating the neutral
// default when none exists yet.
func (e *Engine) State(conversationID string, now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.getOrCreateLocked(conversationID, now)
}

// Snapshot returns a copy of every conversation's state.
func (e *Engine) Snapshot() map[string]State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Directive returns the tone directive for the conversation's current mood.
func (e *Engine) Directive(conversationID string, now time.Time) string {
	st := e.State(conversationID, now)
	return Directive(CategoryOf(st.Score), LevelOf(st.Energy))
}

func (e *Engine) getOrCreateLocked(conversationID string, now time.Time) *State {
	st := e.states[conversationID]
	if st == nil {
		st = &State{Energy: restingEnergy, LastUpdatedAt: now}
		e.states[conversationID] = st
	}
	return st
}

func (e *Engine) snapshotLocked() map[string]State {
	out := make(map[string]State, len(e.states))
	for id, st := range e.states {
		out[id] = *st
	}
	return out
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.saver == nil {
		return
	}
	if err := e.saver.Save(ctx, SnapshotName, e.snapshotLocked()); err != nil {
		slog.Warn("mood: failed to persist snapshot", "err", err)
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// String renders the state for the /mood command.
func (s State) String() string {
	return fmt.Sprintf("%s (score %.1f), energy %s (%.1f)",
		CategoryOf(s.Score), s.Score, LevelOf(s.Energy), s.Energy)
}
