// Package settings holds the typed per-conversation preferences that chat
// members can change with /set.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SnapshotName is the name of the persisted settings document.
const SnapshotName = "settings"

var (
	ErrUnknownField = errors.New("settings: unknown field")
	ErrInvalidValue = errors.New("settings: invalid value")
)

// Style is the requested verbosity of escalated replies.
type Style string

const (
	StyleConcise  Style = "concise"
	StyleDetailed Style = "detailed"
	StylePlayful  Style = "playful"
)

// Level controls how often the agent speaks without being addressed.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Intervention is the throttling pair attached to a Level.
type Intervention struct {
	Probability float64
	MinDelay    int
}

var interventions = map[Level]Intervention{
	LevelNone:   {Probability: 0, MinDelay: 9999},
	LevelLow:    {Probability: 0.03, MinDelay: 15},
	LevelMedium: {Probability: 0.08, MinDelay: 10},
	LevelHigh:   {Probability: 0.15, MinDelay: 7},
}

// Params returns the intervention parameters for l. Unknown levels fall back
// to LevelLow.
func (l Level) Params() Intervention {
	if p, ok := interventions[l]; ok {
		return p
	}
	return interventions[LevelLow]
}

// ChatSettings are the preferences of one conversation.
type ChatSettings struct {
	ResponseStyle     Style         `json:"response_style"`
	InterventionLevel Level         `json:"intervention_level"`
	ProactiveHooks    bool          `json:"proactive_hooks"`
	SilenceRevival    bool          `json:"silence_revival"`
	SilenceTimeout    time.Duration `json:"silence_timeout"`
	CustomPersona     string        `json:"custom_persona"`
}

// Defaults returns the settings a new conversation starts with.
func Defaults() ChatSettings {
	return ChatSettings{
		ResponseStyle:     StyleConcise,
		InterventionLevel: LevelLow,
		ProactiveHooks:    true,
		SilenceRevival:    true,
		SilenceTimeout:    15 * time.Minute,
	}
}

// Fields lists the names accepted by Set, in display order.
var Fields = []string{"style", "intervention", "hooks", "revival", "silence_timeout", "persona"}

// Set parses value into the named field.
func (c *ChatSettings) Set(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(field) {
	case "style":
		switch s := Style(strings.ToLower(value)); s {
		case StyleConcise, StyleDetailed, StylePlayful:
			c.ResponseStyle = s
		default:
			return fmt.Errorf("%w: style must be concise, detailed or playful", ErrInvalidValue)
		}
	case "intervention":
		l := Level(strings.ToLower(value))
		if _, ok := interventions[l]; !ok {
			return fmt.Errorf("%w: intervention must be none, low, medium or high", ErrInvalidValue)
		}
		c.InterventionLevel = l
	case "hooks":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.ProactiveHooks = b
	case "revival":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		c.SilenceRevival = b
	case "silence_timeout":
		d, err := parseMinutes(value)
		if err != nil {
			return err
		}
		c.SilenceTimeout = d
	case "persona":
		c.CustomPersona = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Lines renders the settings for display.
func (c ChatSettings) Lines() []string {
	return []string{
		"style: " + string(c.ResponseStyle),
		"intervention: " + string(c.InterventionLevel),
		"hooks: " + onOff(c.ProactiveHooks),
		"revival: " + onOff(c.SilenceRevival),
		fmt.Sprintf("silence_timeout: %dm", int(c.SilenceTimeout.Minutes())),
		"persona: " + orDash(c.CustomPersona),
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off", ErrInvalidValue)
}

// parseMinutes accepts a bare number of minutes or a Go duration string.
func parseMinutes(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%w: timeout must be positive", ErrInvalidValue)
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < time.Minute {
		return 0, fmt.Errorf("%w: timeout must be at least one minute", ErrInvalidValue)
	}
	return d, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Saver persists a named document.
type Saver interface {
	Save(ctx context.Context, name string, v any) error
}

// Registry holds the settings of every conversation, creating defaults on
// first access. It is safe for concurrent use.
type Registry struct {
	// MaxSilenceTimeout, when set, is an exclusive upper bound for
	// silence_timeout. A conversation silent for longer than its history
	// lives has nothing left to revive.
	MaxSilenceTimeout time.Duration

	mu       sync.Mutex
	defaults ChatSettings
	byID     map[string]ChatSettings
	saver    Saver
}

// NewRegistry creates a Registry. saver may be nil.
func NewRegistry(defaults ChatSettings, saver Saver) *Registry {
	if defaults.ResponseStyle == "" {
		defaults.ResponseStyle = StyleConcise
	}
	if defaults.InterventionLevel == "" {
		defaults.InterventionLevel = LevelLow
	}
	if defaults.SilenceTimeout <= 0 {
		defaults.SilenceTimeout = Defaults().SilenceTimeout
	}
	return &Registry{
		defaults: defaults,
		byID:     make(map[string]ChatSettings),
		saver:    saver,
	}
}

// Restore replaces every conversation's settings with a persisted document.
func (r *Registry) Restore(doc map[string]ChatSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]ChatSettings, len(doc))
	for id, s := range doc {
		r.byID[id] = s
	}
}

// Get returns the conversation's settings, creating the defaults if needed.
func (r *Registry) Get(conversationID string) ChatSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[conversationID]
	if !ok {
		s = r.defaults
		r.byID[conversationID] = s
	}
	return s
}

// Update applies fn to the conversation's settings and persists the result.
// If fn returns an error nothing is changed.
func (r *Registry) Update(ctx context.Context, conversationID string, fn func(*ChatSettings) error) (ChatSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[conversationID]
	if !ok {
		s = r.defaults
	}
	prev := s
	if err := fn(&s); err != nil {
		return prev, err
	}
	r.byID[conversationID] = s

	if r.saver != nil {
		if err := r.saver.Save(ctx, SnapshotName, r.snapshotLocked()); err != nil {
			slog.Warn("settings: failed to persist snapshot", "err", err)
		}
	}
	return s, nil
}

// Set is shorthand for Update with ChatSettings.Set.
func (r *Registry) Set(ctx context.Context, conversationID, field, value string) (ChatSettings, error) {
	return r.Update(ctx, conversationID, func(s *ChatSettings) error {
		if err := s.Set(field, value); err != nil {
			return err
		}
		if limit := r.MaxSilenceTimeout; limit > 0 && s.SilenceTimeout >= limit {
			return fmt.Errorf("%w: timeout must be under %d minutes", ErrInvalidValue, int(limit.Minutes()))
		}
		return nil
	})
}

// Conversations returns the ids with settings, sorted.
func (r *Registry) Conversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of all settings.
func (r *Registry) Snapshot() map[string]ChatSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() map[string]ChatSettings {
	out := make(map[string]ChatSettings, len(r.byID))
	for id, s := range r.byID {
		out[id] = s
	}
	return out
}
