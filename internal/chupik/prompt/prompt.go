// Package prompt assembles escalation requests for the generation service:
// the system prompt for addressed replies and the smaller one-off prompts
// used by random reactions, silence revival and the morning greeting.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/devdenneg/chupik/internal/chupik/generation"
	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/settings"
)

// DefaultPersona is the base system prompt when no persona file is
// configured.
const DefaultPersona = `You are Chupik, a regular member of a group chat. You are witty, a bit cheeky, warm with people you know and never corporate.
You speak casually, use emoji sparingly, and you never pretend to be an assistant or mention that you are an AI model.
Messages from people are prefixed with their name ("name: text"). Answer the last message.`

// Window sizes used when turning history into generation turns.
const (
	EscalationWindow = 10
	ReactionWindow   = 5
	RevivalWindow    = 15
)

// Builder renders prompts around a base persona.
type Builder struct {
	Persona string
}

// NewBuilder returns a Builder; an empty persona selects DefaultPersona.
func NewBuilder(persona string) Builder {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = DefaultPersona
	}
	return Builder{Persona: persona}
}

// Context is everything the system prompt for an addressed reply draws on.
type Context struct {
	Settings      settings.ChatSettings
	MoodDirective string
	Rules         []knowledge.IndexedRule
	Profile       knowledge.Profile
	Facts         []knowledge.FactGroup
	At            time.Time
}

var styleInstructions = map[settings.Style]string{
	settings.StyleConcise:  "RULE: keep answers as short as possible, one or two sentences, to the point.",
	settings.StyleDetailed: "RULE: answer in detail and share specifics.",
	settings.StylePlayful:  "RULE: be playful, tease a little, and keep it light.",
}

// System renders the system prompt. Sections without content are omitted.
func (b Builder) System(c Context) string {
	var sb strings.Builder
	sb.WriteString(b.Persona)

	if s, ok := styleInstructions[c.Settings.ResponseStyle]; ok {
		sb.WriteString("\n")
		sb.WriteString(s)
	}
	if p := strings.TrimSpace(c.Settings.CustomPersona); p != "" {
		fmt.Fprintf(&sb, "\nCURRENT ROLE: you were asked to be %s. For the rest of this conversation behave, answer and joke exactly like %s.", p, p)
	}
	if c.MoodDirective != "" {
		sb.WriteString("\n\n")
		sb.WriteString(c.MoodDirective)
	}
	if !c.At.IsZero() {
		sb.WriteString("\n")
		sb.WriteString(TimeContext(c.At))
	}

	if len(c.Rules) > 0 {
		sb.WriteString("\n\n=== BEHAVIOURAL RULES (MANDATORY) ===\n")
		sb.WriteString("People in this chat told you to follow these rules in every reply:\n")
		for _, r := range c.Rules {
			who := r.ContributorName
			if who == "" {
				who = "Unknown"
			}
			fmt.Fprintf(&sb, "%d. [%s] @%s: %s\n", r.Index+1, r.Timestamp.Format(time.DateOnly), who, r.Text)
		}
	}

	if lines := c.Profile.Lines(); len(lines) > 0 {
		sb.WriteString("\n\n=== ABOUT THE PERSON YOU ARE TALKING TO ===\n")
		sb.WriteString(strings.Join(lines, "\n"))
	}

	if len(c.Facts) > 0 {
		sb.WriteString("\n\n=== THINGS PEOPLE TOLD YOU ===\n")
		for _, g := range c.Facts {
			fmt.Fprintf(&sb, "[%s]\n", g.Key)
			for _, f := range g.Facts {
				who := f.ContributorName
				if who == "" {
					who = "Unknown"
				}
				fmt.Fprintf(&sb, "- %s (@%s)\n", f.Text, who)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TimeContext describes the part of the day at t.
func TimeContext(t time.Time) string {
	h := t.Hour()
	var part string
	switch {
	case h >= 5 && h < 12:
		part = "morning"
	case h >= 12 && h < 17:
		part = "afternoon"
	case h >= 17 && h < 23:
		part = "evening"
	default:
		part = "night"
	}
	return fmt.Sprintf("It is %s now (%s).", part, t.Format("15:04"))
}

// UserLine formats a user message the way the generation service sees it.
func UserLine(sender, text string) string {
	if sender == "" {
		sender = "Unknown"
	}
	return sender + ": " + text
}

// Turns converts the last limit messages to generation turns. User turns are
// prefixed with the sender.
func Turns(history []memory.Message, limit int) []generation.Turn {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]generation.Turn, 0, len(history))
	for _, m := range history {
		if m.Role == memory.RoleAgent {
			out = append(out, generation.Turn{Role: generation.RoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, generation.Turn{Role: generation.RoleUser, Content: UserLine(m.Sender, m.Content)})
	}
	return out
}

// Escalation builds the request for an addressed message that the local
// classifier could not answer. history must not contain the current message.
func (b Builder) Escalation(c Context, history []memory.Message, sender, text, budgetKey string) generation.Request {
	return generation.Request{
		SystemPrompt: b.System(c),
		History:      Turns(history, EscalationWindow),
		UserMessage:  UserLine(sender, text),
		BudgetKey:    budgetKey,
	}
}

// Reaction builds the request for an unprompted one-liner on a conversation
// the agent overheard.
func (b Builder) Reaction(recent []memory.Message, budgetKey string) generation.Request {
	return generation.Request{
		SystemPrompt: b.Persona + "\n\nYou overheard the conversation and want to drop a quick comment. Be natural, cheeky and on topic. Answer VERY briefly (5 to 15 words), as if you just chimed in.",
		History:      Turns(recent, ReactionWindow),
		MaxTokens:    50,
		Temperature:  0.9,
		BudgetKey:    budgetKey,
	}
}

// Revival builds the request for breaking a silence.
func (b Builder) Revival(recent []memory.Message, silence time.Duration, budgetKey string) generation.Request {
	if len(recent) > RevivalWindow {
		recent = recent[len(recent)-RevivalWindow:]
	}
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, UserLine(m.Sender, m.Content))
	}
	return generation.Request{
		SystemPrompt: b.Persona + "\n\nThe chat has gone quiet. Come up with a short line or question to get the conversation going again. Use the context but do not repeat yourself, and do not greet everyone again.",
		UserMessage: fmt.Sprintf("Here are the latest messages:\n%s\n\nNobody has written for %d minutes. Revive the chat with a single line.",
			strings.Join(lines, "\n"), int(silence.Minutes())),
		MaxTokens:   100,
		Temperature: 0.8,
		BudgetKey:   budgetKey,
	}
}

// MorningFallback is sent when the morning greeting cannot be generated.
const MorningFallback = "☀️ Good morning, everyone! Slept well? Go crush it today! 🔥"

// Morning builds the request for the daily morning greeting.
func (b Builder) Morning(budgetKey string) generation.Request {
	return generation.Request{
		SystemPrompt: b.Persona + "\n\nIt is 8 in the morning. You just woke up and want to greet the chat. Be energetic and positive, keep it to one or two sentences, wish everyone a good day and use emoji.",
		UserMessage:  "Write a morning greeting in your style.",
		MaxTokens:    100,
		Temperature:  0.9,
		BudgetKey:    budgetKey,
	}
}

// ReminderFallback returns the reminder text sent when generation fails.
func ReminderFallback(name, text string) string {
	if text == "" {
		return fmt.Sprintf("⏰ Hey %s! You asked me to remind you.", name)
	}
	return fmt.Sprintf("⏰ Hey %s! Reminder: %s", name, text)
}

// Reminder builds the request for a friendly reminder message.
func (b Builder) Reminder(name, text, budgetKey string) generation.Request {
	what := text
	if what == "" {
		what = "(they did not say what about)"
	}
	return generation.Request{
		SystemPrompt: b.Persona + "\n\nYou are delivering a reminder someone asked you for earlier. Address them by name, state what the reminder is about and keep it to one short sentence with an emoji.",
		UserMessage:  fmt.Sprintf("Remind %s about: %s", name, what),
		MaxTokens:    80,
		Temperature:  0.7,
		BudgetKey:    budgetKey,
	}
}
