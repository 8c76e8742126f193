package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devdenneg/chupik/common/redact"
	"github.com/devdenneg/chupik/internal/chupik/memory"
	"github.com/devdenneg/chupik/internal/chupik/prompt"
)

// ReviveSilent is the silence loop iteration. Conversations with revival
// enabled, a non-empty history and at least SilenceTimeout of quiet get a
// generated line. The interaction clock is reset before generating so a
// slow call cannot trigger the same revival twice. Failures in one
// conversation are logged and the scan goes on; send failures are returned
// together at the end.
func (e *Engine) ReviveSilent(ctx context.Context, now time.Time) error {
	var errs []error
	for _, id := range e.deps.Memory.Conversations() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cs := e.deps.Settings.Get(id)
		if !cs.SilenceRevival {
			continue
		}
		silence := e.deps.Memory.SilenceDuration(id, now)
		if silence < cs.SilenceTimeout {
			continue
		}
		history := e.deps.Memory.Recent(id, prompt.RevivalWindow, now)
		if len(history) == 0 {
			continue
		}

		e.deps.Memory.TouchInteraction(id, now)
		reply, err := e.deps.Provider.Generate(ctx, e.prompts.Revival(history, silence, id))
		if err != nil {
			slog.Warn("engine: revival generation failed", "conversation", id, "err", redact.Error(err))
			continue
		}
		if err := e.deps.Sender.Send(ctx, id, reply); err != nil {
			errs = append(errs, fmt.Errorf("engine: send revival to %s: %w", id, err))
			continue
		}
		e.deps.Memory.Append(id, memory.Message{Role: memory.RoleAgent, Content: reply, Timestamp: now})
		e.deps.Metrics.Proactive.WithLabelValues("revival").Inc()
		slog.Info("engine: revived silent conversation", "conversation", id, "silence", silence.Round(time.Minute))
	}
	return errors.Join(errs...)
}

// DailyReset is the daily loop iteration: it clears the message statistics
// and the token budgets.
func (e *Engine) DailyReset(ctx context.Context, now time.Time) error {
	n := e.deps.Stats.Reset(ctx)
	if e.deps.Budget != nil {
		e.deps.Budget.Reset()
	}
	slog.Info("engine: daily reset", "conversations", n, "at", now)
	return nil
}

// MorningGreeting is the morning loop iteration. Every group conversation
// the agent has seen gets a generated greeting, or a fixed one when
// generation fails.
func (e *Engine) MorningGreeting(ctx context.Context, now time.Time) error {
	var errs []error
	for _, id := range e.groupConversations() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text, err := e.deps.Provider.Generate(ctx, e.prompts.Morning(id))
		if err != nil {
			slog.Warn("engine: morning greeting generation failed", "conversation", id, "err", redact.Error(err))
			text = prompt.MorningFallback
		}
		if err := e.deps.Sender.Send(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("engine: send morning greeting to %s: %w", id, err))
			continue
		}
		e.deps.Memory.Append(id, memory.Message{Role: memory.RoleAgent, Content: text, Timestamp: now})
		e.deps.Metrics.Proactive.WithLabelValues("morning").Inc()
	}
	return errors.Join(errs...)
}
