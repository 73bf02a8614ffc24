// ABOUTME: Shared read models for conversations, messages and reactions
// ABOUTME: Enums for conversation type, message tag, delivery status and reaction action

package chat

import (
	"strings"
	"time"
)

// ConversationType distinguishes two-party conversations from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

// MessageTag is a collaborative label any member can put on a message.
type MessageTag string

const (
	TagNone      MessageTag = "NONE"
	TagAnswer    MessageTag = "ANSWER"
	TagMeeting   MessageTag = "MEETING"
	TagImportant MessageTag = "IMPORTANT"
)

// ParseMessageTag parses a tag name case-insensitively.
func ParseMessageTag(s string) (MessageTag, bool) {
	switch tag := MessageTag(strings.ToUpper(strings.TrimSpace(s))); tag {
	case TagNone, TagAnswer, TagMeeting, TagImportant:
		return tag, true
	default:
		return "", false
	}
}

// MessageStatus is derived per message from membership and read markers.
// There is no SENT state: a persisted message is already DELIVERED.
type MessageStatus string

const (
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// ReactionAction tells callers which delta a reaction call produced.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionUpdated ReactionAction = "updated"
	ReactionRemoved ReactionAction = "removed"
)

// Conversation is the bare conversation row as returned by create/update calls.
type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type"`
	Topic     *string          `json:"topic"`
	DirectKey *string          `json:"directKey"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Member is one entry of a conversation's membership.
type Member struct {
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ConversationSummary is a conversation as seen by one viewer.
type ConversationSummary struct {
	ID          string           `json:"id"`
	Type        ConversationType `json:"type"`
	Topic       *string          `json:"topic"`
	CreatedBy   string           `json:"createdBy"`
	CreatedAt   time.Time        `json:"createdAt"`
	PinnedAt    *time.Time       `json:"pinnedAt,omitempty"`
	Members     []Member         `json:"members"`
	LastMessage *Message         `json:"lastMessage"`
	UnreadCount int              `json:"unreadCount"`
}

// Attachment is a file reference carried by a message. PayloadRef is opaque
// to the core (a CDN key, a data URI, ...).
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	PayloadRef  string `json:"payloadRef"`
}

// AttachmentInput describes an attachment to store with a message.
type AttachmentInput struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	PayloadRef  string `json:"payloadRef"`
}

// Reaction is one emoji bucket on a message from the viewer's point of view.
type Reaction struct {
	Emoji       string `json:"emoji"`
	Count       int    `json:"count"`
	ReactedByMe bool   `json:"reactedByMe"`
}

// ReactionCount is the viewer-neutral reaction bucket used in broadcasts.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Message is a message as seen by one viewer.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Body           string        `json:"body"`
	Tag            MessageTag    `json:"tag"`
	ReplyTo        *string       `json:"replyTo,omitempty"`
	ForwardedFrom  *string       `json:"forwardedFrom,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	EditedAt       *time.Time    `json:"editedAt,omitempty"`
	DeletedAt      *time.Time    `json:"deletedAt,omitempty"`
	Attachments    []Attachment  `json:"attachments"`
	Status         MessageStatus `json:"status"`
	ReadBy         []string      `json:"readBy"`
	Reactions      []Reaction    `json:"reactions"`
}

// Deleted reports whether the message was soft-deleted.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// ReactionUpdate is the result of reacting to a message or removing a reaction.
// Message is rendered for the requester; Reactions is the neutral aggregate
// to hand to other members.
type ReactionUpdate struct {
	Message        *Message        `json:"message"`
	ConversationID string          `json:"conversationId"`
	Emoji          string          `json:"emoji,omitempty"`
	Action         ReactionAction  `json:"action"`
	Reactions      []ReactionCount `json:"reactions"`
}
