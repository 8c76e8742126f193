// Package knowledge stores what the agent has been taught: contributor
// attributed facts, per-identity profile details, and per-conversation
// behavioural rules. Each of the three documents is rewritten in full after
// every mutation.
package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Snapshot document names.
const (
	FactsSnapshot    = "facts"
	ProfilesSnapshot = "profiles"
	RulesSnapshot    = "rules"
)

var (
	ErrEmptyFact      = errors.New("knowledge: key and text must not be empty")
	ErrFactNotFound   = errors.New("knowledge: no fact under that key")
	ErrNotContributor = errors.New("knowledge: only the contributor may delete this fact")
	ErrRuleNotFound   = errors.New("knowledge: no active rule at that index")
	ErrUnknownField   = errors.New("knowledge: unknown profile field")
)

// Config holds the store limits.
type Config struct {
	// MaxFacts is the global fact cap. Default: 5500.
	MaxFacts int
	// PerKeyContext is how many of the newest facts under each key are
	// considered for prompt context. Default: 3.
	PerKeyContext int
	// RelevantLimit and RecentLimit bound the two halves of the prompt
	// context selection. Default: 50 each.
	RelevantLimit int
	RecentLimit   int
	// ContextLimit caps the merged selection. Default: 100.
	ContextLimit int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFacts:      5500,
		PerKeyContext: 3,
		RelevantLimit: 50,
		RecentLimit:   50,
		ContextLimit:  100,
	}
}

// Saver persists a named document.
type Saver interface {
	Save(ctx context.Context, name string, v any) error
}

// Store is the knowledge store. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	config   Config
	saver    Saver
	facts    map[string][]Fact
	nextSeq  uint64
	profiles map[string]Profile
	rules    map[string][]Rule
}

// NewStore creates an empty Store. saver may be nil.
func NewStore(cfg Config, saver Saver) *Store {
	def := DefaultConfig()
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = def.MaxFacts
	}
	if cfg.PerKeyContext <= 0 {
		cfg.PerKeyContext = def.PerKeyContext
	}
	if cfg.RelevantLimit <= 0 {
		cfg.RelevantLimit = def.RelevantLimit
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = def.ContextLimit
	}
	return &Store{
		config:   cfg,
		saver:    saver,
		facts:    make(map[string][]Fact),
		nextSeq:  1,
		profiles: make(map[string]Profile),
		rules:    make(map[string][]Rule),
	}
}

// Config returns the effective limits.
func (s *Store) Config() Config {
	return s.config
}

func (s *Store) persistLocked(ctx context.Context, name string) {
	if s.saver == nil {
		return
	}

	var doc any
	switch name {
	case FactsSnapshot:
		doc = cloneFacts(s.facts)
	case ProfilesSnapshot:
		doc = cloneProfiles(s.profiles)
	case RulesSnapshot:
		doc = cloneRules(s.rules)
	default:
		return
	}
	if err := s.saver.Save(ctx, name, doc); err != nil {
		slog.Warn("knowledge: failed to persist snapshot", "name", name, "err", err)
	}
}

func cloneFacts(in map[string][]Fact) map[string][]Fact {
	out := make(map[string][]Fact, len(in))
	for k, v := range in {
		out[k] = append([]Fact(nil), v...)
	}
	return out
}

func cloneProfiles(in map[string]Profile) map[string]Profile {
	out := make(map[string]Profile, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRules(in map[string][]Rule) map[string][]Rule {
	out := make(map[string][]Rule, len(in))
	for k, v := range in {
		out[k] = append([]Rule(nil), v...)
	}
	return out
}
