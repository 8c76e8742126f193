package httpapi

import (
	"context"
	"sync"
	"time"
)

// defaultOutboxCapacity bounds the undrained messages kept per conversation.
const defaultOutboxCapacity = 100

// OutboxMessage is a message the engine produced outside of a request.
type OutboxMessage struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Outbox collects detached messages (reminders, reactions, revivals,
// greetings) for HTTP clients to poll. It implements engine.Sender.
type Outbox struct {
	mu       sync.Mutex
	capacity int
	byID     map[string][]OutboxMessage
	now      func() time.Time
}

// NewOutbox returns an Outbox keeping up to capacity messages per
// conversation; older ones are dropped first. capacity <= 0 selects 100.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = defaultOutboxCapacity
	}
	return &Outbox{capacity: capacity, byID: make(map[string][]OutboxMessage), now: time.Now}
}

// Send queues text for conversationID.
func (o *Outbox) Send(_ context.Context, conversationID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := append(o.byID[conversationID], OutboxMessage{Text: text, At: o.now()})
	if len(q) > o.capacity {
		q = append([]OutboxMessage(nil), q[len(q)-o.capacity:]...)
	}
	o.byID[conversationID] = q
	return nil
}

// Drain returns and forgets the queued messages of conversationID.
func (o *Outbox) Drain(conversationID string) []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.byID[conversationID]
	delete(o.byID, conversationID)
	if q == nil {
		return []OutboxMessage{}
	}
	return q
}

// Pending returns the number of queued messages across all conversations.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, q := range o.byID {
		n += len(q)
	}
	return n
}
