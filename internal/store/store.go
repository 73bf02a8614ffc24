// ABOUTME: Store interfaces and row types for huddle persistence
// ABOUTME: Defines the unit-of-work Store, the Tx primitives, and conversation/message rows

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/huddle/internal/chat"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint
var ErrConflict = errors.New("unique constraint violated")

// Conversation is a row of the conversations table
type Conversation struct {
	ID        string
	Type      chat.ConversationType
	Topic     *string
	DirectKey *string // only set for direct conversations
	CreatedBy string
	CreatedAt time.Time
}

// UserConversation is a conversation joined with the viewer's pin, if any
type UserConversation struct {
	Conversation
	PinnedAt *time.Time
}

// Member is a (conversation, user) membership row
type Member struct {
	ConversationID string
	UserID         string
	JoinedAt       time.Time
}

// Pin records that a user pinned a conversation to the top of their list
type Pin struct {
	ConversationID string
	UserID         string
	PinnedAt       time.Time
}

// Message is a row of the messages table. Deleted messages keep their row
// with DeletedAt set and an empty Body.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Tag            chat.MessageTag
	ReplyTo        *string
	ForwardedFrom  *string
	CreatedAt      time.Time
	EditedAt       *time.Time
	DeletedAt      *time.Time
}

// Attachment is a file reference owned by a message
type Attachment struct {
	ID          string
	MessageID   string
	FileName    string
	ContentType string
	PayloadRef  string
	CreatedAt   time.Time
}

// Reaction is the single reaction a user holds on a message
type Reaction struct {
	ID        string
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// ReadMarker is a member's "read up to here" checkpoint for a conversation
type ReadMarker struct {
	ConversationID    string
	UserID            string
	LastReadMessageID *string
	LastReadAt        time.Time
}

// MessageQuery filters a message scan. Either ConversationID or MemberID
// should be set; MemberID restricts results to conversations the user
// belongs to.
type MessageQuery struct {
	ConversationID string
	MemberID       string
	Tag            *chat.MessageTag
	Search         string // case-insensitive substring of the body
	ExcludeDeleted bool
	NewestFirst    bool
	Limit          int
	Offset         int
}

// Store is the persistence collaborator of the conversation service.
// Every service operation runs inside exactly one InTx call.
type Store interface {
	// InTx runs fn in a single atomic unit of work. The work is committed
	// when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the statement-level primitives available inside a unit of work
type Tx interface {
	// Conversations
	InsertConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error)
	UpdateConversationTopic(ctx context.Context, id string, topic *string) error
	ListUserConversations(ctx context.Context, userID string, limit, offset int) ([]*UserConversation, error)

	// Members
	InsertMembers(ctx context.Context, members []Member) error
	DeleteMember(ctx context.Context, conversationID, userID string) error
	ListMembers(ctx context.Context, conversationID string) ([]Member, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)

	// Pins
	UpsertPin(ctx context.Context, pin *Pin) error
	DeletePin(ctx context.Context, conversationID, userID string) error
	GetPin(ctx context.Context, conversationID, userID string) (*Pin, error)

	// Messages
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	CountMessagesAfter(ctx context.Context, conversationID string, after *time.Time) (int, error)

	// Attachments
	InsertAttachments(ctx context.Context, attachments []Attachment) error
	DeleteAttachments(ctx context.Context, messageID string) error
	ListAttachments(ctx context.Context, messageIDs []string) ([]Attachment, error)

	// Reactions
	GetReaction(ctx context.Context, messageID, userID string) (*Reaction, error)
	UpsertReaction(ctx context.Context, r *Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID string) error
	ListReactions(ctx context.Context, messageIDs []string) ([]Reaction, error)

	// Read markers
	GetReadMarker(ctx context.Context, conversationID, userID string) (*ReadMarker, error)
	UpsertReadMarker(ctx context.Context, marker *ReadMarker) error
	DeleteReadMarker(ctx context.Context, conversationID, userID string) error
	ListReadMarkers(ctx context.Context, conversationID string) ([]ReadMarker, error)
}
