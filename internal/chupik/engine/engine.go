// Package engine runs the reply pipeline for inbound chat messages and the
// iterations of the background loops.
//
// Every inbound message goes through Handle under its conversation's lock:
// statistics and auto-learning, then commands, persona changes, behavioural
// rules, reminders and the web-search refusal. Messages not addressed to the
// agent may trigger a random reaction or a proactive remark; addressed ones
// are answered by the local classifier when it is confident, otherwise by
// the remote generation service. The mood is updated on every path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devdenneg/chupik/common/redact"
	"github.com/devdenneg/chupik/common/trace"
	"github.com/devdenneg/chupik/internal/chupik/commands"
	"github.com/devdenneg/chupik/internal/chupik/generation"
	"github.com/devdenneg/chupik/internal/chupik/knowledge"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/metrics"
	"github.com/devdenneg/chupik/internal/chupik/mood"
	"github.com/devdenneg/chupik/internal/chupik/nlp"
	"github.com/devdenneg/chupik/internal/chupik/prompt"
	"github.com/devdenneg/chupik/internal/chupik/scheduler"
	"github.com/devdenneg/chupik/internal/chupik/settings"
	"github.com/devdenneg/chupik/internal/chupik/stats"
)

// ErrNoConversation is returned by Handle for a message without a
// conversation id.
var ErrNoConversation = errors.New("engine: message has no conversation id")

// Inbound is one chat message delivered by a transport.
type Inbound struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	IsGroup        bool      `json:"is_group"`
	Mentioned      bool      `json:"mentioned"`
	ReplyToBot     bool      `json:"reply_to_bot"`
}

// Addressed reports whether the agent is expected to answer: every private
// message is, group messages only when they mention the agent or reply to it.
func (in Inbound) Addressed() bool {
	return !in.IsGroup || in.Mentioned || in.ReplyToBot
}

// Outcome is the engine's answer to an Inbound. An empty Reply means stay
// silent.
type Outcome struct {
	Reply      string  `json:"reply"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

func silent() Outcome { return Outcome{Source: metrics.SourceSilent} }

// Sender delivers messages the engine produces outside of Handle: reminders,
// random reactions, silence revivals and morning greetings.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

// Config tunes the pipeline. Zero values select the defaults.
type Config struct {
	// Persona is the base system prompt. Default: prompt.DefaultPersona.
	Persona string
	// LocalThreshold is the classifier confidence above which a local
	// answer is used. Default: 0.8.
	LocalThreshold float64
	// ReactionChance is the probability of a random reaction to an
	// overheard message. Default: 0.15.
	ReactionChance float64
	// ReactionMinWords is the shortest message worth reacting to. Default: 5.
	ReactionMinWords int
	// EscalationsPerSender caps escalations per sender and EscalationWindow.
	// Defaults: 20 per minute.
	EscalationsPerSender int
	EscalationWindow     time.Duration
	// DisableAutoLearn stops storing every chat message as a raw fact.
	DisableAutoLearn bool
	// Rand drives reactions, hooks and fallback choice. Default:
	// nlp.GlobalRand.
	Rand nlp.Rand
}

// Deps are the components the engine orchestrates. Memory, Moods,
// Knowledge, Settings, Stats and Classifier are required; the rest default
// to private instances, generation.Disabled and a sender that only logs.
type Deps struct {
	Memory     *memory.Store
	Moods      *mood.Engine
	Knowledge  *knowledge.Store
	Settings   *settings.Registry
	Stats      *stats.Tracker
	Classifier *nlp.Classifier

	Provider generation.Provider
	// Budget is reset by DailyReset. Optional.
	Budget  *generation.TokenBudget
	Sender  Sender
	Tasks   *scheduler.Registry
	Locks   *scheduler.Locks
	Metrics *metrics.Metrics
	Clock   scheduler.Clock
}

// Engine is the decision core. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	deps     Deps
	prompts  prompt.Builder
	router   *commands.Router
	limiter  *generation.SenderLimiter
	fallback []string

	mu     sync.Mutex
	groups map[string]bool
}

// New wires an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case deps.Memory == nil, deps.Moods == nil, deps.Knowledge == nil,
		deps.Settings == nil, deps.Stats == nil, deps.Classifier == nil:
		return nil, fmt.Errorf("engine: memory, moods, knowledge, settings, stats and classifier are required")
	}
	if cfg.LocalThreshold <= 0 {
		cfg.LocalThreshold = 0.8
	}
	if cfg.ReactionChance <= 0 {
		cfg.ReactionChance = 0.15
	}
	if cfg.ReactionMinWords <= 0 {
		cfg.ReactionMinWords = 5
	}
	if cfg.EscalationsPerSender <= 0 {
		cfg.EscalationsPerSender = generation.DefaultSenderLimit
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = time.Minute
	}
	if cfg.Rand == nil {
		cfg.Rand = nlp.GlobalRand
	}
	if deps.Provider == nil {
		deps.Provider = generation.Disabled
	}
	if deps.Sender == nil {
		deps.Sender = logSender{}
	}
	if deps.Clock == nil {
		deps.Clock = scheduler.RealClock{}
	}
	if deps.Locks == nil {
		deps.Locks = scheduler.NewLocks()
	}
	if deps.Tasks == nil {
		deps.Tasks = scheduler.NewRegistry(context.Background())
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("chupik")
	}

	router := commands.NewRouter("/")
	commands.Register(router, commands.Deps{
		Knowledge: deps.Knowledge,
		Memory:    deps.Memory,
		Moods:     deps.Moods,
		Settings:  deps.Settings,
		Stats:     deps.Stats,
	})

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		prompts:  prompt.NewBuilder(cfg.Persona),
		router:   router,
		limiter:  generation.NewSenderLimiter(cfg.EscalationsPerSender, cfg.EscalationWindow),
		fallback: deps.Classifier.Templates().Fallback,
		groups:   make(map[string]bool),
	}, nil
}

// Tasks returns the registry holding the engine's detached work.
func (e *Engine) Tasks() *scheduler.Registry { return e.deps.Tasks }

// Handle runs the reply pipeline for one message. Failures after the
// message is accepted always resolve to some Outcome; the error return is
// reserved for messages that cannot be processed at all.
func (e *Engine) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	if in.ConversationID == "" {
		return Outcome{}, ErrNoConversation
	}
	ctx = trace.Ensure(ctx)
	log := trace.Logger(ctx).With("conversation", in.ConversationID, "sender", in.SenderID)

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return silent(), nil
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = e.deps.Clock.Now()
	}
	if in.SenderName == "" {
		in.SenderName = in.SenderID
	}
	now := in.Timestamp

	unlock := e.deps.Locks.Lock(in.ConversationID)
	defer unlock()

	if in.IsGroup {
		e.mu.Lock()
		e.groups[in.ConversationID] = true
		e.mu.Unlock()
	}

	e.deps.Stats.Record(ctx, in.ConversationID, in.SenderID, now)
	if !e.cfg.DisableAutoLearn {
		e.deps.Knowledge.AddRawMessage(ctx, text, in.SenderID, in.SenderName, now)
	}

	// The escalation history must not contain the current message.
	history := e.deps.Memory.History(in.ConversationID, now)
	e.deps.Memory.Append(in.ConversationID, memory.Message{
		Role:      memory.RoleUser,
		Content:   text,
		Sender:    in.SenderName,
		Timestamp: now,
	})

	out := e.decide(ctx, in, text, history)

	e.deps.Moods.Apply(ctx, in.ConversationID, nlp.DetectSentiment(text), now)
	if out.Reply != "" {
		e.deps.Memory.Append(in.ConversationID, memory.Message{
			Role:      memory.RoleAgent,
			Content:   out.Reply,
			Timestamp: now,
		})
	}

	e.deps.Metrics.Messages.WithLabelValues(out.Source).Inc()
	e.deps.Metrics.Conversations.Set(float64(e.deps.Memory.Len()))
	log.Debug("engine: message handled", "source", out.Source, "confidence", out.Confidence, "addressed", in.Addressed())
	return out, nil
}

func (e *Engine) decide(ctx context.Context, in Inbound, text string, history []memory.Message) Outcome {
	now := in.Timestamp
	log := trace.Logger(ctx).With("conversation", in.ConversationID)

	if strings.HasPrefix(text, "/") {
		if out, ok := e.command(ctx, in, text); ok {
			return out
		}
	}

	if !in.Addressed() {
		return e.overheard(ctx, in, text)
	}

	if persona, reset := nlp.DetectPersonaChange(text); reset || persona != "" {
		return e.changePersona(ctx, in, persona)
	}

	if rule := nlp.DetectBehavioralInstruction(text); rule != "" {
		idx := e.deps.Knowledge.AddRule(ctx, in.ConversationID, rule, in.SenderID, in.SenderName, now)
		log.Info("engine: behavioural rule added", "index", idx)
		return Outcome{
			Reply:      fmt.Sprintf("📝 Got it! Rule #%d: %s", idx+1, rule),
			Source:     metrics.SourceLocal,
			Confidence: 1,
		}
	}

	if req, ok := nlp.DetectReminder(text); ok {
		return e.scheduleReminder(ctx, in, req)
	}

	if nlp.NeedsWebSearch(text) {
		return Outcome{Reply: nlp.WebSearchReply, Source: metrics.SourceLocal, Confidence: 1}
	}

	input := nlp.Input{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Text:           text,
		At:             now,
	}

	// Complex questions skip the classifier so it stamps no greeting
	// cooldown and learns no profile fields from them.
	if nlp.IsComplex(text) {
		res, _ := e.deps.Classifier.Emotion(input)
		return e.escalate(ctx, in, text, history, res)
	}

	// A suppressed greeting has no text and defers like any other miss.
	res := e.deps.Classifier.Classify(ctx, input)
	if res.Text != "" && res.Confidence > e.cfg.LocalThreshold {
		return Outcome{Reply: res.Text, Source: metrics.SourceLocal, Confidence: res.Confidence}
	}

	return e.escalate(ctx, in, text, history, res)
}

// command answers slash commands. ok is false when text does not parse as a
// command, so the pipeline goes on.
func (e *Engine) command(ctx context.Context, in Inbound, text string) (Outcome, bool) {
	cmd, err := e.router.Parse(text)
	if err != nil {
		return Outcome{}, false
	}
	reply, err := e.router.Route(ctx, text, commands.Request{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		At:             in.Timestamp,
	})
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		// Probably meant for another bot in the room.
		return silent(), true
	case err != nil:
		trace.Logger(ctx).Error("engine: command failed", "command", cmd.Name, "err", err)
		return Outcome{Reply: "⚠️ That didn't work, try again in a bit.", Source: metrics.SourceCommand, Confidence: 1}, true
	}
	return Outcome{Reply: reply, Source: metrics.SourceCommand, Confidence: 1}, true
}

func (e *Engine) changePersona(ctx context.Context, in Inbound, persona string) Outcome {
	if _, err := e.deps.Settings.Update(ctx, in.ConversationID, func(s *settings.ChatSettings) error {
		s.CustomPersona = persona
		return nil
	}); err != nil {
		trace.Logger(ctx).Error("engine: persona change failed", "err", err)
		return e.fallbackOutcome(in)
	}
	// A new character should not be primed by the old one's lines.
	e.deps.Memory.Clear(in.ConversationID)

	reply := "😎 Back to my usual self!"
	if persona != "" {
		reply = fmt.Sprintf("🎭 Okay, from now on I'm %s!", persona)
	}
	trace.Logger(ctx).Info("engine: persona changed", "conversation", in.ConversationID, "persona", persona)
	return Outcome{Reply: reply, Source: metrics.SourceLocal, Confidence: 1}
}

// overheard handles group messages that were not addressed to the agent.
// A random reaction runs detached; a proactive remark is returned as the
// reply.
func (e *Engine) overheard(ctx context.Context, in Inbound, text string) Outcome {
	now := in.Timestamp
	if len(strings.Fields(text)) >= e.cfg.ReactionMinWords && e.cfg.Rand.Float64() < e.cfg.ReactionChance {
		e.react(ctx, in.ConversationID, e.deps.Memory.Recent(in.ConversationID, prompt.ReactionWindow, now))
	}

	cs := e.deps.Settings.Get(in.ConversationID)
	if !cs.ProactiveHooks {
		return silent()
	}
	p := cs.InterventionLevel.Params()
	if !e.deps.Memory.CanSendProactive(in.ConversationID, now) ||
		!e.deps.Memory.ShouldIntervene(in.ConversationID, p.Probability, p.MinDelay) {
		return silent()
	}
	hook := nlp.ProactiveHook(e.deps.Memory.History(in.ConversationID, now), e.cfg.Rand)
	if hook == "" {
		return silent()
	}
	e.deps.Metrics.Proactive.WithLabelValues("hook").Inc()
	return Outcome{Reply: hook, Source: metrics.SourceLocal}
}

func (e *Engine) escalate(ctx context.Context, in Inbound, text string, history []memory.Message, res nlp.Result) Outcome {
	now := in.Timestamp
	log := trace.Logger(ctx).With("conversation", in.ConversationID, "sender", in.SenderID)

	// A long emotional message has a canned answer ready if the service
	// lets us down.
	fallback := func(reason string) Outcome {
		e.deps.Metrics.EscalationErrors.WithLabelValues(reason).Inc()
		if res.Kind == nlp.KindSentiment && res.Text != "" {
			return Outcome{Reply: res.Text, Source: metrics.SourceFallback, Confidence: res.Confidence}
		}
		return e.fallbackOutcome(in)
	}

	if !e.limiter.AllowAt(in.SenderID, now) {
		log.Warn("engine: escalation throttled")
		return fallback("throttled")
	}

	profile, _ := e.deps.Knowledge.Profile(in.SenderID)
	req := e.prompts.Escalation(prompt.Context{
		Settings:      e.deps.Settings.Get(in.ConversationID),
		MoodDirective: e.deps.Moods.Directive(in.ConversationID, now),
		Rules:         e.deps.Knowledge.ActiveRules(in.ConversationID),
		Profile:       profile,
		Facts:         e.deps.Knowledge.ContextFor(text),
		At:            now,
	}, history, in.SenderName, text, in.ConversationID)

	start := time.Now()
	reply, err := e.deps.Provider.Generate(ctx, req)
	e.deps.Metrics.ObserveGeneration(time.Since(start))
	if err != nil {
		log.Error("engine: escalation failed", "err", redact.Error(err))
		return fallback(failureReason(err))
	}
	if strings.TrimSpace(reply) == "" {
		log.Warn("engine: escalation returned an empty reply")
		return fallback("empty")
	}
	return Outcome{Reply: reply, Source: metrics.SourceRemote}
}

func (e *Engine) fallbackOutcome(in Inbound) Outcome {
	text := "Not sure about that... try again? 🤔"
	if len(e.fallback) > 0 {
		text = e.fallback[e.cfg.Rand.IntN(len(e.fallback))]
	}
	return Outcome{
		Reply:  nlp.Fill(text, displayName(e.deps.Knowledge, in.SenderID, in.SenderName), "", "", ""),
		Source: metrics.SourceFallback,
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, generation.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, generation.ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, generation.ErrEmptyReply):
		return "empty"
	case errors.Is(err, generation.ErrDisabled):
		return "disabled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "upstream"
}

// displayName prefers the self-declared name over the transport name.
func displayName(kb *knowledge.Store, senderID, fallback string) string {
	if name := kb.NameOf(senderID); name != "" {
		return name
	}
	return fallback
}

func (e *Engine) groupConversations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.groups))
	for id := range e.groups {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type logSender struct{}

func (logSender) Send(ctx context.Context, conversationID, text string) error {
	trace.Logger(ctx).Warn("engine: no sender configured, dropping message", "conversation", conversationID, "len", len(text))
	return nil
}
