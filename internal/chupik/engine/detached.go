package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devdenneg/chupik/common/redact"
	"github.com/devdenneg/chupik/common/trace"
	"github.com/devdenneg/chupik/internal/chupik/generation"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/metrics"
	"github.com/devdenneg/chupik/internal/chupik/nlp"
	"github.com/devdenneg/chupik/internal/chupik/prompt"
	"github.com/devdenneg/chupik/internal/chupik/scheduler"
)

// react generates a short unprompted comment on recent in the background.
// A failed generation is dropped; reactions have no fallback.
func (e *Engine) react(ctx context.Context, conversationID string, recent []memory.Message) {
	traceID := trace.FromContext(ctx)
	_, err := e.deps.Tasks.Go("reaction", func(ctx context.Context) error {
		ctx = trace.WithTraceID(ctx, traceID)
		reply, err := e.deps.Provider.Generate(ctx, e.prompts.Reaction(recent, conversationID))
		if err == nil && strings.TrimSpace(reply) == "" {
			err = generation.ErrEmptyReply
		}
		if err != nil {
			trace.Logger(ctx).Debug("engine: reaction skipped", "conversation", conversationID, "err", redact.Error(err))
			return nil
		}
		if err := e.deps.Sender.Send(ctx, conversationID, reply); err != nil {
			return fmt.Errorf("engine: send reaction: %w", err)
		}
		e.deps.Memory.Append(conversationID, memory.Message{
			Role:      memory.RoleAgent,
			Content:   reply,
			Timestamp: e.deps.Clock.Now(),
		})
		e.deps.Metrics.Proactive.WithLabelValues("reaction").Inc()
		return nil
	})
	if err != nil {
		trace.Logger(ctx).Warn("engine: reaction not started", "err", err)
	}
}

func (e *Engine) scheduleReminder(ctx context.Context, in Inbound, req nlp.ReminderRequest) Outcome {
	name := displayName(e.deps.Knowledge, in.SenderID, in.SenderName)
	r := scheduler.NewReminder(in.ConversationID, in.SenderID, name, req.Delay, req.Text, in.Timestamp)

	traceID := trace.FromContext(ctx)
	id, err := e.deps.Tasks.Go("reminder", func(ctx context.Context) error {
		return e.fireReminder(trace.WithTraceID(ctx, traceID), r)
	})
	if errors.Is(err, scheduler.ErrShutdown) {
		return Outcome{Reply: "😴 I'm shutting down, can't take reminders right now.", Source: metrics.SourceLocal, Confidence: 1}
	}
	if err != nil {
		trace.Logger(ctx).Error("engine: reminder not scheduled", "err", err)
		return e.fallbackOutcome(in)
	}

	e.deps.Metrics.Reminders.WithLabelValues("scheduled").Inc()
	trace.Logger(ctx).Info("engine: reminder scheduled",
		"conversation", in.ConversationID, "reminder", r.ID, "task", id, "due", r.DueAt())

	reply := fmt.Sprintf("⏰ Okay %s, I'll remind you in %d %s", name, req.Amount, req.Unit)
	if req.Text != "" {
		reply += ": " + req.Text
	}
	return Outcome{Reply: reply + " 👌", Source: metrics.SourceLocal, Confidence: 1}
}

// fireReminder waits out the delay, then delivers a generated reminder, or
// the plain fallback text when generation fails.
func (e *Engine) fireReminder(ctx context.Context, r scheduler.Reminder) error {
	if err := scheduler.Sleep(ctx, e.deps.Clock, r.Delay()); err != nil {
		return fmt.Errorf("engine: reminder %s abandoned: %w", r.ID, err)
	}
	log := trace.Logger(ctx).With("conversation", r.ConversationID, "reminder", r.ID)

	text, err := e.deps.Provider.Generate(ctx, e.prompts.Reminder(r.RequesterName, r.PayloadText, r.ConversationID))
	if err == nil && strings.TrimSpace(text) == "" {
		err = generation.ErrEmptyReply
	}
	if err != nil {
		log.Warn("engine: reminder generation failed, sending plain text", "err", redact.Error(err))
		text = prompt.ReminderFallback(r.RequesterName, r.PayloadText)
		e.deps.Metrics.Reminders.WithLabelValues("fallback").Inc()
	}
	if err := e.deps.Sender.Send(ctx, r.ConversationID, text); err != nil {
		return fmt.Errorf("engine: send reminder %s: %w", r.ID, err)
	}
	e.deps.Memory.Append(r.ConversationID, memory.Message{
		Role:      memory.RoleAgent,
		Content:   text,
		Timestamp: e.deps.Clock.Now(),
	})
	e.deps.Metrics.Reminders.WithLabelValues("fired").Inc()
	log.Info("engine: reminder fired")
	return nil
}
