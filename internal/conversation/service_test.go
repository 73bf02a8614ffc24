// ABOUTME: Tests for the conversation Service against a real SQLite store
// ABOUTME: Covers authorization, direct dedup, status/unread derivation, reactions, events and typing

package conversation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/store"
)

// recordingPublisher keeps every event handed to it
type recordingPublisher struct {
	mu     sync.Mutex
	events []presence.Event
}

func (p *recordingPublisher) Broadcast(_ context.Context, event presence.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) ofType(t presence.EventType) []presence.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []presence.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock hands out a fixed time until advanced
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	svc   *Service
	pub   *recordingPublisher
	clock *fakeClock
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pub := &recordingPublisher{}
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	svc := New(createTestStore(t), pub, nil, nil)
	svc.now = clock.Now
	return &harness{svc: svc, pub: pub, clock: clock}
}

func (h *harness) group(t *testing.T, creator string, members ...string) string {
	t.Helper()
	conv, err := h.svc.CreateGroupConversation(t.Context(), creator, members, nil)
	require.NoError(t, err)
	return conv.ID
}

func (h *harness) send(t *testing.T, convID, sender, body string) *chat.Message {
	t.Helper()
	h.clock.Advance(time.Second)
	msg, err := h.svc.SendMessage(t.Context(), SendRequest{ConversationID: convID, SenderID: sender, Body: body})
	require.NoError(t, err)
	return msg
}

func (h *harness) unread(t *testing.T, convID, viewer string) int {
	t.Helper()
	summary, err := h.svc.GetConversation(t.Context(), convID, viewer)
	require.NoError(t, err)
	return summary.UnreadCount
}

func (h *harness) message(t *testing.T, convID, viewer, messageID string) *chat.Message {
	t.Helper()
	msgs, err := h.svc.ListMessages(t.Context(), convID, viewer, MessageQuery{Limit: 100})
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ID == messageID {
			return m
		}
	}
	t.Fatalf("message %s not listed", messageID)
	return nil
}

func requireKind(t *testing.T, err error, want chat.Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := chat.KindOf(err)
	require.True(t, ok, "expected a chat error, got %v", err)
	assert.Equal(t, want, kind)
}

func ptr[T any](v T) *T { return &v }

func TestService_CreateDirectConversation_IsSymmetricAndIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	first, err := h.svc.CreateDirectConversation(ctx, "alice", "bob", ptr("lunch"))
	require.NoError(t, err)
	assert.Equal(t, chat.ConversationDirect, first.Type)
	require.NotNil(t, first.DirectKey)
	assert.Equal(t, "alice:bob", *first.DirectKey)

	again, err := h.svc.CreateDirectConversation(ctx, "bob", "alice", ptr("dinner"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	require.NotNil(t, again.Topic)
	assert.Equal(t, "lunch", *again.Topic, "topic is not updated on reuse")

	summaries, err := h.svc.ListConversations(ctx, "alice", 100, 0)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	require.Len(t, summaries[0].Members, 2)
}

// staleReadStore hides existing direct conversations from the first unit
// of work, as if another writer committed right after the lookup
type staleReadStore struct {
	store.Store
	mu     sync.Mutex
	misses int
}

func (s *staleReadStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.InTx(ctx, func(tx store.Tx) error {
		s.mu.Lock()
		stale := s.misses > 0
		if stale {
			s.misses--
		}
		s.mu.Unlock()
		if stale {
			return fn(staleReadTx{tx})
		}
		return fn(tx)
	})
}

type staleReadTx struct {
	store.Tx
}

func (staleReadTx) GetDirectConversation(ctx context.Context, directKey string) (*store.Conversation, error) {
	return nil, store.ErrNotFound
}

func TestService_CreateDirectConversation_LosesRace(t *testing.T) {
	st := createTestStore(t)
	ctx := t.Context()

	winner, err := New(st, nil, nil, nil).CreateDirectConversation(ctx, "bob", "alice", nil)
	require.NoError(t, err)

	racing := &staleReadStore{Store: st, misses: 1}
	svc := New(racing, nil, nil, nil)

	conv, err := svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, conv.ID, "the committed conversation is returned")
	assert.Zero(t, racing.misses, "the stale lookup was used")

	summaries, err := svc.ListConversations(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestService_CreateDirectConversation_WithSelf(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreateDirectConversation(t.Context(), "alice", "alice", nil)
	requireKind(t, err, chat.KindInvalidArgument)
	assert.ErrorIs(t, err, chat.ErrConversationWithSelf)
}

func TestService_CreateGroupConversation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	conv, err := h.svc.CreateGroupConversation(ctx, "alice", []string{"bob", "bob", "alice", " "}, ptr("  "))
	require.NoError(t, err)
	assert.Nil(t, conv.Topic, "blank topic is normalized away")

	ids, err := h.svc.ConversationMemberIDs(ctx, conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	_, err = h.svc.CreateGroupConversation(ctx, "alice", []string{"alice"}, nil)
	requireKind(t, err, chat.KindInvalidArgument)
	assert.ErrorIs(t, err, chat.ErrGroupRequiresMembers)

	_, err = h.svc.CreateGroupConversation(ctx, "alice", nil, nil)
	assert.ErrorIs(t, err, chat.ErrGroupRequiresMembers)
}

func TestService_UpdateConversationTopic(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")
	direct, err := h.svc.CreateDirectConversation(ctx, "alice", "carol", nil)
	require.NoError(t, err)

	updated, err := h.svc.UpdateConversationTopic(ctx, groupID, "alice", ptr(" Planning "))
	require.NoError(t, err)
	require.NotNil(t, updated.Topic)
	assert.Equal(t, "Planning", *updated.Topic)

	cleared, err := h.svc.UpdateConversationTopic(ctx, groupID, "alice", ptr(""))
	require.NoError(t, err)
	assert.Nil(t, cleared.Topic)

	_, err = h.svc.UpdateConversationTopic(ctx, "missing", "alice", nil)
	requireKind(t, err, chat.KindNotFound)

	_, err = h.svc.UpdateConversationTopic(ctx, direct.ID, "alice", ptr("x"))
	assert.ErrorIs(t, err, chat.ErrNotGroupConversation)

	_, err = h.svc.UpdateConversationTopic(ctx, groupID, "bob", ptr("x"))
	requireKind(t, err, chat.KindForbidden)
	assert.ErrorIs(t, err, chat.ErrNotConversationOwner)
}

func TestService_AddMembers(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	members, err := h.svc.AddMembers(ctx, groupID, "alice", []string{"carol", "bob"})
	require.NoError(t, err)
	assert.Len(t, members, 3)

	members, err = h.svc.AddMembers(ctx, groupID, "alice", []string{"carol"})
	require.NoError(t, err, "adding an existing member is not an error")
	assert.Len(t, members, 3)

	_, err = h.svc.AddMembers(ctx, groupID, "bob", []string{"dave"})
	assert.ErrorIs(t, err, chat.ErrNotConversationOwner)
}

func TestService_RemoveMember_Authorization(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob", "carol", "dave")

	_, err := h.svc.RemoveMember(ctx, groupID, "bob", "carol")
	requireKind(t, err, chat.KindForbidden)
	assert.ErrorIs(t, err, chat.ErrNotAuthorized)

	members, err := h.svc.RemoveMember(ctx, groupID, "bob", "bob")
	require.NoError(t, err, "members may leave")
	assert.Len(t, members, 3)

	members, err = h.svc.RemoveMember(ctx, groupID, "alice", "carol")
	require.NoError(t, err, "owner may remove anyone")
	assert.Len(t, members, 2)

	_, err = h.svc.RemoveMember(ctx, groupID, "erin", "dave")
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)
}

func TestService_RemoveMember_ForgetsReadState(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob", "carol")

	h.send(t, groupID, "alice", "one")
	h.send(t, groupID, "alice", "two")

	h.clock.Advance(time.Second)
	require.NoError(t, h.svc.MarkConversationRead(ctx, groupID, "bob", nil))
	assert.Equal(t, 0, h.unread(t, groupID, "bob"))

	_, err := h.svc.RemoveMember(ctx, groupID, "alice", "bob")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	_, err = h.svc.AddMembers(ctx, groupID, "alice", []string{"bob"})
	require.NoError(t, err)

	assert.Equal(t, 2, h.unread(t, groupID, "bob"), "re-added member has no read marker")
}

func TestService_SendMessage_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	_, err := h.svc.SendMessage(ctx, SendRequest{ConversationID: groupID, SenderID: "alice", Body: "  \n\t"})
	requireKind(t, err, chat.KindInvalidArgument)
	assert.ErrorIs(t, err, chat.ErrMessageBodyBlank)

	_, err = h.svc.SendMessage(ctx, SendRequest{ConversationID: groupID, SenderID: "mallory", Body: "hi"})
	requireKind(t, err, chat.KindForbidden)
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)

	_, err = h.svc.SendMessage(ctx, SendRequest{ConversationID: "missing", SenderID: "alice", Body: "hi"})
	requireKind(t, err, chat.KindNotFound)
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)

	otherID := h.group(t, "alice", "carol")
	elsewhere := h.send(t, otherID, "alice", "elsewhere")
	_, err = h.svc.SendMessage(ctx, SendRequest{ConversationID: groupID, SenderID: "alice", Body: "re", ReplyTo: &elsewhere.ID})
	assert.ErrorIs(t, err, chat.ErrMessageNotInConversation)

	assert.Len(t, h.pub.ofType(presence.EventMessageCreated), 1, "failed sends publish nothing")
}

func TestService_SendMessage_StoresAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob", "carol")

	h.clock.Advance(time.Second)
	msg, err := h.svc.SendMessage(ctx, SendRequest{
		ConversationID: groupID,
		SenderID:       "alice",
		Body:           "  hello team  ",
		Attachments: []chat.AttachmentInput{
			{FileName: "plan.pdf", ContentType: "application/pdf", PayloadRef: "cdn://plan"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello team", msg.Body)
	assert.Equal(t, chat.TagNone, msg.Tag)
	assert.Equal(t, chat.StatusDelivered, msg.Status)
	assert.Equal(t, []string{"alice"}, msg.ReadBy, "sender has read their own message")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "plan.pdf", msg.Attachments[0].FileName)
	assert.Equal(t, 0, h.unread(t, groupID, "alice"))
	assert.Equal(t, 1, h.unread(t, groupID, "bob"))

	events := h.pub.ofType(presence.EventMessageCreated)
	require.Len(t, events, 1)
	assert.Equal(t, groupID, events[0].ConversationID)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, events[0].Recipients)
	assert.Equal(t, msg.ID, events[0].Message.ID)

	reply, err := h.svc.SendMessage(ctx, SendRequest{ConversationID: groupID, SenderID: "bob", Body: "ok", ReplyTo: &msg.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, msg.ID, *reply.ReplyTo)
}

func TestService_SendMessage_Forwarding(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	source := h.group(t, "alice", "bob")
	target := h.group(t, "alice", "carol")
	private := h.group(t, "dave", "erin")

	original := h.send(t, source, "bob", "fwd me")
	secret := h.send(t, private, "dave", "secret")

	fwd, err := h.svc.SendMessage(ctx, SendRequest{ConversationID: target, SenderID: "alice", Body: "fwd me", ForwardedFrom: &original.ID})
	require.NoError(t, err)
	require.NotNil(t, fwd.ForwardedFrom)
	assert.Equal(t, original.ID, *fwd.ForwardedFrom)

	_, err = h.svc.SendMessage(ctx, SendRequest{ConversationID: target, SenderID: "alice", Body: "leak", ForwardedFrom: &secret.ID})
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)

	_, err = h.svc.SendMessage(ctx, SendRequest{ConversationID: target, SenderID: "alice", Body: "x", ForwardedFrom: ptr("missing")})
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestService_ReadScenario_DirectConversation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	conv, err := h.svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	require.NoError(t, err)

	hi := h.send(t, conv.ID, "alice", "hi")
	assert.Equal(t, chat.StatusDelivered, hi.Status)
	assert.Equal(t, 1, h.unread(t, conv.ID, "bob"))

	h.clock.Advance(time.Second)
	require.NoError(t, h.svc.MarkConversationRead(ctx, conv.ID, "bob", &hi.ID))

	read := h.message(t, conv.ID, "alice", hi.ID)
	assert.Equal(t, chat.StatusRead, read.Status)
	assert.Equal(t, []string{"alice", "bob"}, read.ReadBy)
	assert.Equal(t, 0, h.unread(t, conv.ID, "bob"))

	events := h.pub.ofType(presence.EventConversationRead)
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].ReaderID)
	assert.Equal(t, hi.ID, events[0].MessageID)
	assert.Equal(t, presence.StatusRead, events[0].Status)
	assert.ElementsMatch(t, []string{"alice", "bob"}, events[0].Recipients)
}

func TestService_Status_RequiresEveryOtherMember(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob", "carol")

	msg := h.send(t, groupID, "alice", "standup?")

	require.NoError(t, h.svc.MarkConversationRead(ctx, groupID, "bob", nil))
	assert.Equal(t, chat.StatusDelivered, h.message(t, groupID, "alice", msg.ID).Status)

	require.NoError(t, h.svc.MarkConversationRead(ctx, groupID, "carol", nil))
	assert.Equal(t, chat.StatusRead, h.message(t, groupID, "alice", msg.ID).Status)

	// A later message is not covered by earlier markers
	later := h.send(t, groupID, "alice", "anyone?")
	assert.Equal(t, chat.StatusDelivered, later.Status)
}

func TestService_Status_ReadWhenNoOtherMembers(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	_, err := h.svc.RemoveMember(ctx, groupID, "bob", "bob")
	require.NoError(t, err)

	msg := h.send(t, groupID, "alice", "talking to myself")
	assert.Equal(t, chat.StatusRead, msg.Status)
}

func TestService_UnreadCount_IsStrictlyAfterMarker(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	h.send(t, groupID, "alice", "one")
	// Same instant as the marker: already read
	require.NoError(t, h.svc.MarkConversationRead(ctx, groupID, "bob", nil))
	assert.Equal(t, 0, h.unread(t, groupID, "bob"))

	h.send(t, groupID, "alice", "two")
	deleted := h.send(t, groupID, "alice", "three")
	_, err := h.svc.DeleteMessage(ctx, deleted.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, h.unread(t, groupID, "bob"), "deleted messages are not unread")
}

func TestService_MarkConversationRead_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")
	otherID := h.group(t, "alice", "carol")
	foreign := h.send(t, otherID, "alice", "x")

	err := h.svc.MarkConversationRead(ctx, groupID, "bob", &foreign.ID)
	requireKind(t, err, chat.KindInvalidArgument)
	assert.ErrorIs(t, err, chat.ErrMessageNotInConversation)

	err = h.svc.MarkConversationRead(ctx, groupID, "bob", ptr("missing"))
	assert.ErrorIs(t, err, chat.ErrMessageNotInConversation)

	err = h.svc.MarkConversationRead(ctx, groupID, "carol", nil)
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)

	assert.Empty(t, h.pub.ofType(presence.EventConversationRead))
}

func TestService_EditMessage(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	h.clock.Advance(time.Second)
	msg, err := h.svc.SendMessage(ctx, SendRequest{
		ConversationID: groupID,
		SenderID:       "alice",
		Body:           "draft",
		Attachments:    []chat.AttachmentInput{{FileName: "a.png", ContentType: "image/png", PayloadRef: "a"}},
	})
	require.NoError(t, err)

	editedAt := h.clock.Advance(time.Minute)
	edited, err := h.svc.EditMessage(ctx, msg.ID, "alice", ptr(" final "), nil)
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Body)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.Equal(editedAt))
	assert.Len(t, edited.Attachments, 1, "attachments untouched when omitted")

	replaced, err := h.svc.EditMessage(ctx, msg.ID, "alice", nil, []chat.AttachmentInput{
		{FileName: "b.png", ContentType: "image/png", PayloadRef: "b"},
		{FileName: "c.png", ContentType: "image/png", PayloadRef: "c"},
	})
	require.NoError(t, err)
	assert.Equal(t, "final", replaced.Body, "body untouched when omitted")
	require.Len(t, replaced.Attachments, 2)
	assert.Equal(t, "b.png", replaced.Attachments[0].FileName)

	cleared, err := h.svc.EditMessage(ctx, msg.ID, "alice", nil, []chat.AttachmentInput{})
	require.NoError(t, err)
	assert.Empty(t, cleared.Attachments)

	_, err = h.svc.EditMessage(ctx, msg.ID, "alice", ptr("   "), nil)
	assert.ErrorIs(t, err, chat.ErrMessageBodyBlank)

	_, err = h.svc.EditMessage(ctx, msg.ID, "bob", ptr("hijack"), nil)
	requireKind(t, err, chat.KindForbidden)
	assert.ErrorIs(t, err, chat.ErrNotMessageOwner)

	_, err = h.svc.EditMessage(ctx, "missing", "alice", ptr("x"), nil)
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)
}

func TestService_EditDeletedMessage_AlwaysConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")
	msg := h.send(t, groupID, "alice", "oops")

	_, err := h.svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)

	for _, caller := range []string{"alice", "bob", "mallory"} {
		_, err := h.svc.EditMessage(ctx, msg.ID, caller, ptr("again"), nil)
		requireKind(t, err, chat.KindConflict)
		assert.ErrorIs(t, err, chat.ErrMessageDeleted, "caller %s", caller)
	}
}

func TestService_DeleteMessage(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	first := h.send(t, groupID, "alice", "keep")
	h.clock.Advance(time.Second)
	msg, err := h.svc.SendMessage(ctx, SendRequest{
		ConversationID: groupID,
		SenderID:       "alice",
		Body:           "remove me",
		Attachments:    []chat.AttachmentInput{{FileName: "a.png", ContentType: "image/png", PayloadRef: "a"}},
	})
	require.NoError(t, err)

	_, err = h.svc.DeleteMessage(ctx, msg.ID, "bob")
	assert.ErrorIs(t, err, chat.ErrNotMessageOwner)

	deletedAt := h.clock.Advance(time.Minute)
	deleted, err := h.svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, deleted.Body)
	assert.Empty(t, deleted.Attachments)
	require.NotNil(t, deleted.DeletedAt)
	assert.True(t, deleted.DeletedAt.Equal(deletedAt))
	require.NotNil(t, deleted.EditedAt)
	assert.True(t, deleted.EditedAt.Equal(deletedAt))

	_, err = h.svc.DeleteMessage(ctx, msg.ID, "alice")
	assert.ErrorIs(t, err, chat.ErrMessageDeleted)

	summary, err := h.svc.GetConversation(ctx, groupID, "bob")
	require.NoError(t, err)
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, first.ID, summary.LastMessage.ID, "last message skips deleted")

	listed, err := h.svc.ListMessages(ctx, groupID, "bob", MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 2, "tombstones stay in the history")
	assert.True(t, listed[1].Deleted())
	assert.Empty(t, listed[1].Body)
}

func TestService_TagMessage(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")
	msg := h.send(t, groupID, "alice", "meet at 3")

	tagged, err := h.svc.TagMessage(ctx, msg.ID, "bob", chat.TagMeeting)
	require.NoError(t, err, "any member may tag")
	assert.Equal(t, chat.TagMeeting, tagged.Tag)

	retagged, err := h.svc.TagMessage(ctx, msg.ID, "alice", chat.TagImportant)
	require.NoError(t, err)
	assert.Equal(t, chat.TagImportant, retagged.Tag)

	_, err = h.svc.TagMessage(ctx, msg.ID, "mallory", chat.TagAnswer)
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)

	_, err = h.svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	_, err = h.svc.TagMessage(ctx, msg.ID, "bob", chat.TagAnswer)
	assert.ErrorIs(t, err, chat.ErrMessageDeleted)
}

func TestService_Reactions(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob", "carol")
	msg := h.send(t, groupID, "alice", "ship it")

	update, err := h.svc.ReactToMessage(ctx, msg.ID, "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, chat.ReactionAdded, update.Action)

	_, err = h.svc.ReactToMessage(ctx, msg.ID, "carol", "👍")
	require.NoError(t, err)

	update, err = h.svc.ReactToMessage(ctx, msg.ID, "bob", "😂")
	require.NoError(t, err)
	assert.Equal(t, chat.ReactionUpdated, update.Action)
	assert.Equal(t, "😂", update.Emoji)
	assert.Equal(t, []chat.ReactionCount{{Emoji: "👍", Count: 1}, {Emoji: "😂", Count: 1}}, update.Reactions,
		"bob holds a single reaction")

	var mine *chat.Reaction
	for i := range update.Message.Reactions {
		if update.Message.Reactions[i].Emoji == "😂" {
			mine = &update.Message.Reactions[i]
		}
	}
	require.NotNil(t, mine)
	assert.True(t, mine.ReactedByMe)

	removed, err := h.svc.RemoveReaction(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, chat.ReactionRemoved, removed.Action)
	assert.Equal(t, []chat.ReactionCount{{Emoji: "👍", Count: 1}}, removed.Reactions)

	again, err := h.svc.RemoveReaction(ctx, msg.ID, "bob")
	require.NoError(t, err, "removing a missing reaction succeeds")
	assert.Equal(t, chat.ReactionRemoved, again.Action)

	events := h.pub.ofType(presence.EventReactionUpdated)
	require.Len(t, events, 5)
	assert.Equal(t, chat.ReactionUpdated, events[2].ReactionAction)
	assert.Equal(t, "😂", events[2].ReactionEmoji)
	assert.Equal(t, "bob", events[2].ReaderID)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, events[2].Recipients)
}

func TestService_Reactions_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")
	msg := h.send(t, groupID, "alice", "hi")

	_, err := h.svc.ReactToMessage(ctx, msg.ID, "bob", "🍕")
	requireKind(t, err, chat.KindInvalidArgument)
	assert.ErrorIs(t, err, chat.ErrInvalidEmoji)

	_, err = h.svc.ReactToMessage(ctx, "missing", "bob", "👍")
	assert.ErrorIs(t, err, chat.ErrMessageNotFound)

	_, err = h.svc.ReactToMessage(ctx, msg.ID, "mallory", "👍")
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)

	_, err = h.svc.DeleteMessage(ctx, msg.ID, "alice")
	require.NoError(t, err)
	_, err = h.svc.ReactToMessage(ctx, msg.ID, "bob", "👍")
	requireKind(t, err, chat.KindConflict)
	assert.ErrorIs(t, err, chat.ErrMessageDeleted)
}

func TestService_ListConversations_PinnedFirst(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	var ids []string
	for range 3 {
		h.clock.Advance(time.Second)
		ids = append(ids, h.group(t, "alice", "bob"))
	}

	list := func(limit int) []string {
		t.Helper()
		summaries, err := h.svc.ListConversations(ctx, "alice", limit, 0)
		require.NoError(t, err)
		out := make([]string, len(summaries))
		for i, s := range summaries {
			out[i] = s.ID
		}
		return out
	}

	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, list(100))

	h.clock.Advance(time.Second)
	pinned, err := h.svc.PinConversation(ctx, ids[0], "alice")
	require.NoError(t, err)
	require.NotNil(t, pinned.PinnedAt)
	assert.Equal(t, []string{ids[0], ids[2], ids[1]}, list(100))

	h.clock.Advance(time.Second)
	_, err = h.svc.PinConversation(ctx, ids[1], "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[0], ids[2]}, list(100))

	unpinned, err := h.svc.UnpinConversation(ctx, ids[1], "alice")
	require.NoError(t, err)
	assert.Nil(t, unpinned.PinnedAt)
	assert.Equal(t, []string{ids[0], ids[2], ids[1]}, list(100))

	// Pins are per viewer
	bobs, err := h.svc.ListConversations(ctx, "bob", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, ids[2], bobs[0].ID)

	assert.Len(t, list(0), 1, "limit is clamped to at least one")

	_, err = h.svc.PinConversation(ctx, ids[0], "mallory")
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)
}

func TestService_ListMessages_Filters(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	m1 := h.send(t, groupID, "alice", "Release notes are UP")
	m2 := h.send(t, groupID, "bob", "thanks")
	m3 := h.send(t, groupID, "alice", "next release on friday")

	_, err := h.svc.TagMessage(ctx, m3.ID, "bob", chat.TagImportant)
	require.NoError(t, err)

	all, err := h.svc.ListMessages(ctx, groupID, "bob", MessageQuery{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	found, err := h.svc.ListMessages(ctx, groupID, "bob", MessageQuery{Search: " RELEASE ", Limit: 100})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, m1.ID, found[0].ID)

	tag := chat.TagImportant
	tagged, err := h.svc.ListMessages(ctx, groupID, "bob", MessageQuery{Tag: &tag, Limit: 100})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, m3.ID, tagged[0].ID)

	page, err := h.svc.ListMessages(ctx, groupID, "bob", MessageQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, m2.ID, page[0].ID)

	_, err = h.svc.ListMessages(ctx, groupID, "mallory", MessageQuery{})
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)
}

func TestService_SearchMessages_ScopedToMemberships(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	mine := h.group(t, "alice", "bob")
	direct, err := h.svc.CreateDirectConversation(ctx, "alice", "carol", nil)
	require.NoError(t, err)
	theirs := h.group(t, "dave", "erin")

	older := h.send(t, mine, "bob", "Hello there")
	h.send(t, theirs, "dave", "hello from elsewhere")
	gone := h.send(t, mine, "alice", "hello again")
	newer := h.send(t, direct.ID, "carol", "say HELLO")

	_, err = h.svc.DeleteMessage(ctx, gone.ID, "alice")
	require.NoError(t, err)

	found, err := h.svc.SearchMessages(ctx, "alice", MessageQuery{Search: "hello", Limit: 100})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, newer.ID, found[0].ID, "newest first")
	assert.Equal(t, older.ID, found[1].ID)
}

func TestService_SetTyping(t *testing.T) {
	pub := &recordingPublisher{}
	cache := dedupe.New(time.Minute, 100)
	t.Cleanup(cache.Close)
	svc := New(createTestStore(t), pub, cache, nil)
	ctx := t.Context()

	conv, err := svc.CreateGroupConversation(ctx, "alice", []string{"bob", "carol"}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.SetTyping(ctx, conv.ID, "alice", true))
	require.NoError(t, svc.SetTyping(ctx, conv.ID, "alice", true))
	require.NoError(t, svc.SetTyping(ctx, conv.ID, "alice", false))
	require.NoError(t, svc.SetTyping(ctx, conv.ID, "alice", true))

	events := pub.ofType(presence.EventUserTyping)
	require.Len(t, events, 3, "repeated start inside the window is dropped")
	assert.Equal(t, presence.StatusTyping, events[0].Status)
	assert.Equal(t, presence.StatusStopped, events[1].Status)
	assert.Equal(t, presence.StatusTyping, events[2].Status)
	assert.Equal(t, "alice", events[0].ReaderID)
	assert.ElementsMatch(t, []string{"bob", "carol"}, events[0].Recipients, "actor is not notified")

	err = svc.SetTyping(ctx, conv.ID, "mallory", true)
	assert.ErrorIs(t, err, chat.ErrNotConversationMember)
}

func TestService_SetTyping_ContinuousTypistIsReannounced(t *testing.T) {
	pub := &recordingPublisher{}
	cache := dedupe.New(100*time.Millisecond, 100)
	t.Cleanup(cache.Close)
	svc := New(createTestStore(t), pub, cache, nil)
	ctx := t.Context()

	conv, err := svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	require.NoError(t, err)

	deadline := time.Now().Add(600 * time.Millisecond)
	signals := 0
	for time.Now().Before(deadline) {
		require.NoError(t, svc.SetTyping(ctx, conv.ID, "alice", true))
		signals++
		time.Sleep(10 * time.Millisecond)
	}

	events := pub.ofType(presence.EventUserTyping)
	assert.GreaterOrEqual(t, len(events), 3, "about one TYPING per 100ms window over 600ms")
	assert.Less(t, len(events), signals, "signals inside a window are still dropped")
}

func TestService_AssertMembership(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	groupID := h.group(t, "alice", "bob")

	assert.NoError(t, h.svc.AssertMembership(ctx, groupID, "bob"))
	assert.ErrorIs(t, h.svc.AssertMembership(ctx, groupID, "carol"), chat.ErrNotConversationMember)
	assert.ErrorIs(t, h.svc.AssertMembership(ctx, "missing", "bob"), chat.ErrConversationNotFound)

	_, err := h.svc.ConversationMemberIDs(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestService_WithoutPublisher(t *testing.T) {
	svc := New(createTestStore(t), nil, nil, nil)
	ctx := t.Context()

	conv, err := svc.CreateDirectConversation(ctx, "alice", "bob", nil)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, SendRequest{ConversationID: conv.ID, SenderID: "alice", Body: "hi"})
	assert.NoError(t, err)
}

func TestAggregateReactions_Ordering(t *testing.T) {
	reactions := []store.Reaction{
		{UserID: "u1", Emoji: "b"},
		{UserID: "u2", Emoji: "a"},
		{UserID: "u3", Emoji: "c"},
		{UserID: "u4", Emoji: "c"},
	}

	got := aggregateReactions(reactions, "u2")
	assert.Equal(t, []chat.Reaction{
		{Emoji: "c", Count: 2},
		{Emoji: "a", Count: 1, ReactedByMe: true},
		{Emoji: "b", Count: 1},
	}, got)

	assert.Equal(t, []chat.ReactionCount{
		{Emoji: "c", Count: 2},
		{Emoji: "a", Count: 1},
		{Emoji: "b", Count: 1},
	}, reactionCounts(reactions))

	assert.Empty(t, aggregateReactions(nil, "u1"))
}

func TestDirectKey(t *testing.T) {
	assert.Equal(t, "a:b", directKey("b", "a"))
	assert.Equal(t, directKey("x", "y"), directKey("y", "x"))
}
