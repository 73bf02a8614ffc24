// ABOUTME: Real-time event envelope delivered to connected clients
// ABOUTME: A type discriminator, an optional recipient list, and per-type payload fields

package presence

import (
	"time"

	"github.com/2389/huddle/internal/chat"
)

// EventType discriminates real-time events.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventMessageCreated   EventType = "message_created"
	EventConversationRead EventType = "conversation_read"
	EventUserTyping       EventType = "user_typing"
	EventReactionUpdated  EventType = "reaction_updated"
	EventPresenceChanged  EventType = "presence_changed"
)

// Values of Event.Status.
const (
	StatusTyping  = "TYPING"
	StatusStopped = "STOPPED"
	StatusRead    = "READ"
)

// Event is the JSON envelope pushed to connections. Recipients lists the
// user ids that should receive it; an empty list means every connected user.
type Event struct {
	Type           EventType                 `json:"type"`
	ConversationID string                    `json:"conversationId,omitempty"`
	Recipients     []string                  `json:"recipients,omitempty"`
	Message        *chat.Message             `json:"message,omitempty"`
	Conversation   *chat.ConversationSummary `json:"conversation,omitempty"`
	MessageID      string                    `json:"messageId,omitempty"`
	ReaderID       string                    `json:"readerId,omitempty"`
	Status         string                    `json:"status,omitempty"`
	ReactionEmoji  string                    `json:"reactionEmoji,omitempty"`
	ReactionAction chat.ReactionAction       `json:"reactionAction,omitempty"`
	Reactions      []chat.ReactionCount      `json:"reactions,omitempty"`

	// presence_changed
	UserID     string     `json:"userId,omitempty"`
	IsOnline   *bool      `json:"isOnline,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Presence is the last known online state of a user.
type Presence struct {
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
