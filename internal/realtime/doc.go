// Package realtime exposes the presence registry over WebSockets.
//
// A client connects to the updates endpoint with a bearer token:
//
//	GET /updates                      Authorization: Bearer <jwt>
//	GET /updates?token=<jwt>          for browsers, which cannot set headers
//
// The first frame is {"type":"connected"}. After that the client receives,
// as JSON text frames, every event the registry routes to its user:
// message_created, conversation_read, reaction_updated, user_typing and
// presence_changed. The endpoint is push only; frames sent by the client
// are ignored.
package realtime
