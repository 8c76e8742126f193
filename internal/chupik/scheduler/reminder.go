package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// Reminder is a one-shot deferred message. It fires once and is then
// discarded; nothing about it is persisted.
type Reminder struct {
	ID             string
	ConversationID string
	RequesterID    string
	RequesterName  string
	DelaySeconds   int
	PayloadText    string
	CreatedAt      time.Time
}

// NewReminder creates a reminder with a fresh id.
func NewReminder(conversationID, requesterID, requesterName string, delay time.Duration, text string, now time.Time) Reminder {
	return Reminder{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		RequesterID:    requesterID,
		RequesterName:  requesterName,
		DelaySeconds:   int(delay / time.Second),
		PayloadText:    text,
		CreatedAt:      now,
	}
}

// Delay returns the wait as a duration.
func (r Reminder) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// DueAt is when the reminder fires.
func (r Reminder) DueAt() time.Time {
	return r.CreatedAt.Add(r.Delay())
}
