// Package conversation provides the chat aggregate: conversations, members,
// messages, reactions and read markers.
//
// # Service
//
// The Service is built from a store, an event publisher and an optional
// typing cache:
//
//	svc := conversation.New(store, registry, typingCache, logger)
//
// Every exported operation runs in exactly one store unit of work, so a
// failed call leaves nothing behind. Caller errors are *chat.Error values;
// anything else is an internal failure wrapped with the operation name.
//
// Key operations:
//
//   - CreateDirectConversation, CreateGroupConversation
//   - UpdateConversationTopic, AddMembers, RemoveMember
//   - PinConversation, UnpinConversation
//   - SendMessage, EditMessage, DeleteMessage, TagMessage
//   - ReactToMessage, RemoveReaction
//   - MarkConversationRead, SetTyping
//   - ListConversations, GetConversation, ListMessages, SearchMessages
//
// # Direct Conversations
//
// A direct conversation is keyed by its two member ids, sorted and joined
// with ":". Creating it again, from either side, returns the existing row.
//
// # Derived State
//
// Nothing viewer-specific is stored. On each read:
//
//   - readers of a message are the users whose marker is at or past its creation time
//   - status is READ when every member except the sender is a reader, DELIVERED otherwise
//   - unread count is the number of live messages newer than the viewer's marker
//   - reactions are bucketed by emoji, largest first, ties by emoji
//
// Sending a message moves the sender's marker to that message, so senders
// never see their own messages as unread.
//
// # Events
//
// After a unit of work commits, the service publishes:
//
//   - message_created to every member on SendMessage
//   - conversation_read to every member on MarkConversationRead
//   - reaction_updated to every member on ReactToMessage and RemoveReaction
//   - user_typing to the other members on SetTyping
//
// Delivery is best effort and never fails the operation.
package conversation
