// Package presence tracks live real-time connections and fans events out to them.
//
// # Registry
//
// A Registry maps user ids to the set of connections each user currently
// has open (one per device or tab). It is created by the server process and
// injected into whatever publishes events:
//
//	reg := presence.NewRegistry(logger)
//	defer reg.Close(ctx)
//
// Register and Unregister detect presence edges. The first connection of a
// user flips them online and the last one going away flips them offline;
// both edges are announced to every connected user as a presence_changed
// event. Intermediate connections emit nothing.
//
// # Broadcast
//
// Broadcast copies the target connections while holding the registry lock,
// releases it, and then sends to every target concurrently. A slow client
// therefore never stalls registration or delivery to other clients. A send
// that fails closes the connection and removes it from the registry, which
// can flip its user offline.
//
// Presence edges are numbered per user under the lock and sent one at a
// time. An edge that has been overtaken by a later one for the same user is
// skipped, so observers always end on the user's current state.
//
// There is no queueing or retry. Clients that were offline reconcile through
// the durable query path after reconnecting.
//
// # Events
//
//   - connected: sent once to a connection when it registers
//   - message_created, conversation_read, user_typing, reaction_updated
//   - presence_changed: userId, isOnline, lastSeenAt
package presence
