// Package chat holds the types shared by the conversation service, the
// presence registry and whatever request layer sits in front of them.
//
// # DTOs
//
// Conversation, ConversationSummary, Member, Message, Attachment and Reaction
// are the read models handed back to callers. They are computed per viewer:
// a Message carries the delivery Status and ReadBy list derived from the
// conversation's read markers, and Reactions flag whether the viewer took
// part. ReactionCount is the viewer-neutral variant used in broadcasts.
//
// # Errors
//
// Every failure the service reports to a caller is an *Error carrying a Code
// (the machine-readable reason, e.g. "message_deleted") and the Kind it
// belongs to:
//
//   - KindNotFound: the conversation or message does not exist
//   - KindForbidden: not a member, not the owner, not the sender
//   - KindInvalidArgument: blank body, unknown emoji, bad membership set
//   - KindConflict: the message was already deleted
//
// Callers switch on the kind rather than comparing strings:
//
//	switch kind, _ := chat.KindOf(err); kind {
//	case chat.KindNotFound:
//	case chat.KindForbidden:
//	case chat.KindInvalidArgument:
//	case chat.KindConflict:
//	}
//
// Individual codes can be matched with errors.Is against the exported
// sentinels (ErrMessageDeleted, ErrNotConversationMember, ...).
package chat
