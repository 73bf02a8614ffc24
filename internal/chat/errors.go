// ABOUTME: Closed error taxonomy for the chat core
// ABOUTME: Error kinds, machine codes and structured *Error values matched with errors.Is/As

package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Kind groups error codes into the categories a request layer maps to
// transport status codes.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindInvalidArgument
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Code is the machine-readable reason for a failure.
type Code string

const (
	CodeConversationNotFound     Code = "conversation_not_found"
	CodeMessageNotFound          Code = "message_not_found"
	CodeNotConversationMember    Code = "not_a_conversation_member"
	CodeNotConversationOwner     Code = "not_conversation_owner"
	CodeNotMessageOwner          Code = "not_message_owner"
	CodeNotAuthorized            Code = "not_authorized"
	CodeNotGroupConversation     Code = "not_group_conversation"
	CodeMessageBodyBlank         Code = "message_body_blank"
	CodeInvalidEmoji             Code = "invalid_emoji"
	CodeConversationWithSelf     Code = "cannot_create_conversation_with_self"
	CodeGroupRequiresMembers     Code = "group_requires_members"
	CodeMessageNotInConversation Code = "message_not_in_conversation"
	CodeMessageDeleted           Code = "message_deleted"
)

var codeKinds = map[Code]Kind{
	CodeConversationNotFound:     KindNotFound,
	CodeMessageNotFound:          KindNotFound,
	CodeNotConversationMember:    KindForbidden,
	CodeNotConversationOwner:     KindForbidden,
	CodeNotMessageOwner:          KindForbidden,
	CodeNotAuthorized:            KindForbidden,
	CodeNotGroupConversation:     KindInvalidArgument,
	CodeMessageBodyBlank:         KindInvalidArgument,
	CodeInvalidEmoji:             KindInvalidArgument,
	CodeConversationWithSelf:     KindInvalidArgument,
	CodeGroupRequiresMembers:     KindInvalidArgument,
	CodeMessageNotInConversation: KindInvalidArgument,
	CodeMessageDeleted:           KindConflict,
}

// Kind returns the category the code belongs to.
func (c Code) Kind() Kind {
	return codeKinds[c]
}

// Error is a caller-inspectable failure. The id fields are filled in when
// known and are only informational; matching is done on Code.
type Error struct {
	Kind           Kind
	Code           Code
	ConversationID string
	MessageID      string
	UserID         string
}

// NewError returns an *Error for code with its kind filled in.
func NewError(code Code) *Error {
	return &Error{Kind: code.Kind(), Code: code}
}

func (e *Error) Error() string {
	var refs []string
	if e.ConversationID != "" {
		refs = append(refs, "conversation="+e.ConversationID)
	}
	if e.MessageID != "" {
		refs = append(refs, "message="+e.MessageID)
	}
	if e.UserID != "" {
		refs = append(refs, "user="+e.UserID)
	}
	if len(refs) == 0 {
		return string(e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Code, strings.Join(refs, " "))
}

// Is matches another *Error with the same code, so the exported sentinels
// work with errors.Is regardless of the ids attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// InConversation returns a copy of e annotated with a conversation id.
func (e *Error) InConversation(id string) *Error {
	c := *e
	c.ConversationID = id
	return &c
}

// OnMessage returns a copy of e annotated with a message id.
func (e *Error) OnMessage(id string) *Error {
	c := *e
	c.MessageID = id
	return &c
}

// ForUser returns a copy of e annotated with a user id.
func (e *Error) ForUser(id string) *Error {
	c := *e
	c.UserID = id
	return &c
}

// Sentinels for errors.Is.
var (
	ErrConversationNotFound     = NewError(CodeConversationNotFound)
	ErrMessageNotFound          = NewError(CodeMessageNotFound)
	ErrNotConversationMember    = NewError(CodeNotConversationMember)
	ErrNotConversationOwner     = NewError(CodeNotConversationOwner)
	ErrNotMessageOwner          = NewError(CodeNotMessageOwner)
	ErrNotAuthorized            = NewError(CodeNotAuthorized)
	ErrNotGroupConversation     = NewError(CodeNotGroupConversation)
	ErrMessageBodyBlank         = NewError(CodeMessageBodyBlank)
	ErrInvalidEmoji             = NewError(CodeInvalidEmoji)
	ErrConversationWithSelf     = NewError(CodeConversationWithSelf)
	ErrGroupRequiresMembers     = NewError(CodeGroupRequiresMembers)
	ErrMessageNotInConversation = NewError(CodeMessageNotInConversation)
	ErrMessageDeleted           = NewError(CodeMessageDeleted)
)

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}

// CodeOf reports the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Code, true
}
