package memory

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single turn stored in a conversation's rolling history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the per-conversation memory. Copies handed out by
// Store are snapshots; mutating them has no effect on the store.
type ConversationState struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`

	// LastInteractionAt is the timestamp of the last appended message,
	// whatever its role. Silence revival may also push it forward.
	LastInteractionAt time.Time `json:"last_interaction_at"`

	// LastBotMessageAt is the timestamp of the last agent-authored message.
	LastBotMessageAt time.Time `json:"last_bot_message_at"`

	// PendingCounter counts user messages since the last proactive
	// intervention.
	PendingCounter int `json:"pending_counter"`

	// UnansweredBotMessages counts proactive interventions that no user
	// message has followed yet.
	UnansweredBotMessages int `json:"unanswered_bot_messages"`
}
