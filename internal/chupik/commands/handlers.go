package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/mood"
	"github.com/devdenneg/chupik/internal/chupik/settings"
	"github.com/devdenneg/chupik/internal/chupik/stats"
)

const (
	recentFactsShown = 20
	searchResults    = 5
	topSenders       = 5
)

// Deps are the stores the built-in commands read and mutate.
type Deps struct {
	Knowledge *knowledge.Store
	Memory    *memory.Store
	Moods     *mood.Engine
	Settings  *settings.Registry
	Stats     *stats.Tracker
}

// Handlers implements the built-in commands.
type Handlers struct {
	deps   Deps
	router *Router
}

// Register wires every built-in command into r.
func Register(r *Router, deps Deps) *Handlers {
	h := &Handlers{deps: deps, router: r}
	r.Register("help", "help", "this list", h.HandleHelp)
	r.Register("learn", "learn key | fact", "teach me a fact", h.HandleLearn)
	r.Register("forget", "forget key", "delete a fact you taught me", h.HandleForget)
	r.Register("facts", "facts [query]", "what I know, or search it", h.HandleFacts)
	r.Register("rules", "rules", "behaviour rules in this chat", h.HandleRules)
	r.Register("forget_rule", "forget_rule N", "drop rule number N", h.HandleForgetRule)
	r.Register("mood", "mood", "how I feel right now", h.HandleMood)
	r.Register("settings", "settings", "this chat's settings", h.HandleSettings)
	r.Register("set", "set field value", "change a setting ("+strings.Join(settings.Fields, ", ")+")", h.HandleSet)
	r.Register("stats", "stats", "today's most active people", h.HandleStats)
	r.Register("clear", "clear", "forget the conversation so far", h.HandleClear)
	r.Register("myinfo", "myinfo", "what I know about you", h.HandleMyInfo)
	return h
}

// HandleHelp lists the commands.
func (h *Handlers) HandleHelp(_ context.Context, _ *Command, _ Request) (string, error) {
	return h.router.Help(), nil
}

// HandleLearn stores "key | fact".
func (h *Handlers) HandleLearn(ctx context.Context, cmd *Command, req Request) (string, error) {
	key, text, ok := strings.Cut(cmd.RawArgs, "|")
	if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(text) == "" {
		return "Usage: /learn key | fact\nExample: /learn pizza | Bob loves pizza with pineapple", nil
	}
	f, err := h.deps.Knowledge.AddFact(ctx, key, text, req.SenderID, req.SenderName, req.At)
	if err != nil {
		return "", fmt.Errorf("commands: learn: %w", err)
	}
	return fmt.Sprintf("✅ Got it! I'll remember that about \"%s\".", f.Key), nil
}

// HandleForget deletes the sender's first fact under a key.
func (h *Handlers) HandleForget(ctx context.Context, cmd *Command, req Request) (string, error) {
	key := strings.TrimSpace(cmd.RawArgs)
	if key == "" {
		return "Usage: /forget key", nil
	}
	err := h.deps.Knowledge.DeleteFact(ctx, key, req.SenderID)
	switch {
	case errors.Is(err, knowledge.ErrFactNotFound):
		return fmt.Sprintf("I don't know anything about \"%s\".", knowledge.NormalizeKey(key)), nil
	case errors.Is(err, knowledge.ErrNotContributor):
		return "Only the person who taught me that can make me forget it.", nil
	case err != nil:
		return "", fmt.Errorf("commands: forget: %w", err)
	}
	return fmt.Sprintf("🗑 Forgotten: \"%s\".", knowledge.NormalizeKey(key)), nil
}

// HandleFacts shows store statistics and the newest facts, or searches them.
func (h *Handlers) HandleFacts(_ context.Context, cmd *Command, _ Request) (string, error) {
	query := strings.TrimSpace(cmd.RawArgs)
	if query != "" {
		return h.searchFacts(query), nil
	}

	st := h.deps.Knowledge.Stats()
	if st.TotalFacts == 0 {
		return "I don't know anything yet. Teach me with /learn key | fact", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 %d facts under %d keys (%.1f%% of %d)\n",
		st.TotalFacts, st.TotalKeys, st.UsagePercent, st.MaxFacts)
	if len(st.TopContributors) > 0 {
		sb.WriteString("\nTop teachers:\n")
		for i, c := range st.TopContributors {
			fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, c.Name, c.Count)
		}
	}
	sb.WriteString("\nLatest:\n")
	for _, f := range h.deps.Knowledge.RecentFacts(recentFactsShown) {
		fmt.Fprintf(&sb, "• [%s] %s (@%s)\n", f.Key, truncate(f.Text, 80), f.ContributorName)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (h *Handlers) searchFacts(query string) string {
	results := h.deps.Knowledge.Search(query, searchResults)
	if len(results) == 0 {
		return fmt.Sprintf("Nothing found for \"%s\".", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔎 Results for \"%s\":\n", query)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n[%s]\n", r.Key)
		for _, f := range r.Facts {
			fmt.Fprintf(&sb, "- %s (@%s)\n", truncate(f.Text, 120), f.ContributorName)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// HandleRules lists the active rules with their original 1-based numbers.
func (h *Handlers) HandleRules(_ context.Context, _ *Command, req Request) (string, error) {
	rules := h.deps.Knowledge.ActiveRules(req.ConversationID)
	if len(rules) == 0 {
		return "No rules in this chat. Tell me \"never …\" or \"always …\" to add one.", nil
	}
	var sb strings.Builder
	sb.WriteString("📜 Rules:\n")
	for _, r := range rules {
		fmt.Fprintf(&sb, "%d. %s (@%s)\n", r.Index+1, r.Text, r.ContributorName)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleForgetRule deactivates a rule by its 1-based number.
func (h *Handlers) HandleForgetRule(ctx context.Context, cmd *Command, req Request) (string, error) {
	arg, _ := cmd.GetArg(0)
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return "Usage: /forget_rule N (see /rules for numbers)", nil
	}
	err = h.deps.Knowledge.RemoveRule(ctx, req.ConversationID, n-1)
	if errors.Is(err, knowledge.ErrRuleNotFound) {
		return fmt.Sprintf("There is no rule number %d.", n), nil
	}
	if err != nil {
		return "", fmt.Errorf("commands: forget rule: %w", err)
	}
	return fmt.Sprintf("🗑 Rule %d removed.", n), nil
}

// HandleMood shows the conversation's mood.
func (h *Handlers) HandleMood(_ context.Context, _ *Command, req Request) (string, error) {
	st := h.deps.Moods.State(req.ConversationID, req.At)
	return "🎭 Mood: " + st.String(), nil
}

// HandleSettings shows the conversation's settings.
func (h *Handlers) HandleSettings(_ context.Context, _ *Command, req Request) (string, error) {
	cs := h.deps.Settings.Get(req.ConversationID)
	return "⚙️ Settings:\n" + strings.Join(cs.Lines(), "\n"), nil
}

// HandleSet changes one setting. Persona values may contain spaces.
func (h *Handlers) HandleSet(ctx context.Context, cmd *Command, req Request) (string, error) {
	field, value, _ := strings.Cut(cmd.RawArgs, " ")
	if field == "" {
		return "Usage: /set field value\nFields: " + strings.Join(settings.Fields, ", "), nil
	}
	cs, err := h.deps.Settings.Set(ctx, req.ConversationID, field, value)
	switch {
	case errors.Is(err, settings.ErrUnknownField):
		return fmt.Sprintf("Unknown setting %q. Fields: %s", field, strings.Join(settings.Fields, ", ")), nil
	case errors.Is(err, settings.ErrInvalidValue):
		return "Invalid value: " + strings.TrimPrefix(err.Error(), settings.ErrInvalidValue.Error()+": "), nil
	case err != nil:
		return "", fmt.Errorf("commands: set: %w", err)
	}
	return "✅ Updated.\n" + strings.Join(cs.Lines(), "\n"), nil
}

// HandleStats shows today's most active senders.
func (h *Handlers) HandleStats(_ context.Context, _ *Command, req Request) (string, error) {
	day := h.deps.Stats.Today(req.ConversationID, req.At)
	if day.Total == 0 {
		return "No messages today yet.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 %s: %d messages\n", day.Date, day.Total)
	for i, s := range day.Top(topSenders) {
		name := h.deps.Knowledge.NameOf(s.ID)
		if name == "" {
			name = s.ID
		}
		fmt.Fprintf(&sb, "%d. %s: %d\n", i+1, name, s.Count)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// HandleClear drops the conversation history.
func (h *Handlers) HandleClear(_ context.Context, _ *Command, req Request) (string, error) {
	h.deps.Memory.Clear(req.ConversationID)
	return "🧹 Conversation history cleared.", nil
}

// HandleMyInfo shows the sender's profile.
func (h *Handlers) HandleMyInfo(_ context.Context, _ *Command, req Request) (string, error) {
	p, ok := h.deps.Knowledge.Profile(req.SenderID)
	if !ok || p.Empty() {
		return "I don't know anything about you yet. Tell me: \"my name is …\", \"I live in …\"", nil
	}
	return "👤 What I know about you:\n" + strings.Join(p.Lines(), "\n"), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
