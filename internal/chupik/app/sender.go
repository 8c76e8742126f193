package app

import (
	"context"
	"strings"
	"time"

	"github.com/devdenneg/chupik/internal/chupik/engine"
	"github.com/devdenneg/chupik/internal/chupik/scheduler"
)

// routeSender delivers detached messages for Matrix rooms (ids starting
// with "!") through Matrix and everything else to the HTTP outbox.
type routeSender struct {
	matrix engine.Sender
	outbox engine.Sender
}

func (s routeSender) Send(ctx context.Context, conversationID, text string) error {
	if s.matrix != nil && strings.HasPrefix(conversationID, "!") {
		return s.matrix.Send(ctx, conversationID, text)
	}
	return s.outbox.Send(ctx, conversationID, text)
}

// zonedClock reports wall time in loc so cron schedules fire in local time.
type zonedClock struct {
	scheduler.RealClock
	loc *time.Location
}

func (c zonedClock) Now() time.Time { return time.Now().In(c.loc) }
