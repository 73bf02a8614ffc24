// ABOUTME: Derivation of per-viewer read models from stored rows
// ABOUTME: Message readers and status, unread counts, reaction buckets and conversation summaries

package conversation

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/store"
)

// readState is the membership and read markers of one conversation,
// loaded once and shared by every message rendered from it.
type readState struct {
	members map[string]bool
	markers []store.ReadMarker
}

func loadReadState(ctx context.Context, tx store.Tx, conversationID string) (*readState, error) {
	ids, err := memberIDs(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	markers, err := tx.ListReadMarkers(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	rs := &readState{members: make(map[string]bool, len(ids)), markers: markers}
	for _, id := range ids {
		rs.members[id] = true
	}
	return rs, nil
}

// readers returns, sorted, the users whose marker is at or past createdAt.
func (rs *readState) readers(createdAt time.Time) []string {
	readers := []string{}
	for _, m := range rs.markers {
		if !m.LastReadAt.Before(createdAt) {
			readers = append(readers, m.UserID)
		}
	}
	slices.Sort(readers)
	return readers
}

// status is READ once every member other than the sender has read the
// message, or when there is nobody else; DELIVERED otherwise.
func (rs *readState) status(senderID string, readers []string) chat.MessageStatus {
	for id := range rs.members {
		if id == senderID {
			continue
		}
		if _, found := slices.BinarySearch(readers, id); !found {
			return chat.StatusDelivered
		}
	}
	return chat.StatusRead
}

// renderMessages builds the viewer's view of msgs, batching attachment and
// reaction lookups and loading read state once per conversation.
func renderMessages(ctx context.Context, tx store.Tx, msgs []*store.Message, viewerID string) ([]*chat.Message, error) {
	out := make([]*chat.Message, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	attachments, err := tx.ListAttachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	attachmentsByMessage := make(map[string][]chat.Attachment)
	for _, a := range attachments {
		attachmentsByMessage[a.MessageID] = append(attachmentsByMessage[a.MessageID], chat.Attachment{
			ID:          a.ID,
			FileName:    a.FileName,
			ContentType: a.ContentType,
			PayloadRef:  a.PayloadRef,
		})
	}

	reactions, err := tx.ListReactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	reactionsByMessage := make(map[string][]store.Reaction)
	for _, r := range reactions {
		reactionsByMessage[r.MessageID] = append(reactionsByMessage[r.MessageID], r)
	}

	states := make(map[string]*readState)
	for _, m := range msgs {
		rs, ok := states[m.ConversationID]
		if !ok {
			if rs, err = loadReadState(ctx, tx, m.ConversationID); err != nil {
				return nil, err
			}
			states[m.ConversationID] = rs
		}

		readers := rs.readers(m.CreatedAt)
		msg := &chat.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Body:           m.Body,
			Tag:            m.Tag,
			ReplyTo:        m.ReplyTo,
			ForwardedFrom:  m.ForwardedFrom,
			CreatedAt:      m.CreatedAt,
			EditedAt:       m.EditedAt,
			DeletedAt:      m.DeletedAt,
			Attachments:    attachmentsByMessage[m.ID],
			Status:         rs.status(m.SenderID, readers),
			ReadBy:         readers,
			Reactions:      aggregateReactions(reactionsByMessage[m.ID], viewerID),
		}
		if msg.Deleted() {
			msg.Body = ""
			msg.Attachments = nil
		}
		if msg.Attachments == nil {
			msg.Attachments = []chat.Attachment{}
		}
		out = append(out, msg)
	}
	return out, nil
}

func renderMessage(ctx context.Context, tx store.Tx, m *store.Message, viewerID string) (*chat.Message, error) {
	msgs, err := renderMessages(ctx, tx, []*store.Message{m}, viewerID)
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// aggregateReactions buckets reactions by emoji, largest bucket first and
// ties ordered by emoji.
func aggregateReactions(reactions []store.Reaction, viewerID string) []chat.Reaction {
	buckets := make(map[string]*chat.Reaction)
	for _, r := range reactions {
		b, ok := buckets[r.Emoji]
		if !ok {
			b = &chat.Reaction{Emoji: r.Emoji}
			buckets[r.Emoji] = b
		}
		b.Count++
		if viewerID != "" && r.UserID == viewerID {
			b.ReactedByMe = true
		}
	}

	out := make([]chat.Reaction, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b chat.Reaction) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Emoji, b.Emoji)
	})
	return out
}

// reactionCounts is the viewer-neutral form of aggregateReactions used in
// broadcasts.
func reactionCounts(reactions []store.Reaction) []chat.ReactionCount {
	agg := aggregateReactions(reactions, "")
	out := make([]chat.ReactionCount, len(agg))
	for i, r := range agg {
		out[i] = chat.ReactionCount{Emoji: r.Emoji, Count: r.Count}
	}
	return out
}

// unreadCount counts non-deleted messages newer than the viewer's marker,
// or all of them when the viewer has no marker.
func unreadCount(ctx context.Context, tx store.Tx, conversationID, viewerID string) (int, error) {
	var after *time.Time
	marker, err := tx.GetReadMarker(ctx, conversationID, viewerID)
	switch {
	case err == nil:
		after = &marker.LastReadAt
	case !errors.Is(err, store.ErrNotFound):
		return 0, err
	}
	return tx.CountMessagesAfter(ctx, conversationID, after)
}

// summarize builds the viewer's summary of a conversation
func summarize(ctx context.Context, tx store.Tx, conv *store.Conversation, pinnedAt *time.Time, viewerID string) (*chat.ConversationSummary, error) {
	members, err := listMembers(ctx, tx, conv.ID)
	if err != nil {
		return nil, err
	}

	var last *chat.Message
	lastRow, err := tx.LastMessage(ctx, conv.ID)
	switch {
	case err == nil:
		if last, err = renderMessage(ctx, tx, lastRow, viewerID); err != nil {
			return nil, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	unread, err := unreadCount(ctx, tx, conv.ID, viewerID)
	if err != nil {
		return nil, err
	}

	return &chat.ConversationSummary{
		ID:          conv.ID,
		Type:        conv.Type,
		Topic:       conv.Topic,
		CreatedBy:   conv.CreatedBy,
		CreatedAt:   conv.CreatedAt,
		PinnedAt:    pinnedAt,
		Members:     members,
		LastMessage: last,
		UnreadCount: unread,
	}, nil
}

// viewerSummary loads the viewer's pin and summarizes the conversation
func viewerSummary(ctx context.Context, tx store.Tx, conv *store.Conversation, viewerID string) (*chat.ConversationSummary, error) {
	var pinnedAt *time.Time
	pin, err := tx.GetPin(ctx, conv.ID, viewerID)
	switch {
	case err == nil:
		pinnedAt = &pin.PinnedAt
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return summarize(ctx, tx, conv, pinnedAt, viewerID)
}

func listMembers(ctx context.Context, tx store.Tx, conversationID string) ([]chat.Member, error) {
	rows, err := tx.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members := make([]chat.Member, len(rows))
	for i, m := range rows {
		members[i] = chat.Member{UserID: m.UserID, JoinedAt: m.JoinedAt}
	}
	return members, nil
}

func toConversation(c *store.Conversation) *chat.Conversation {
	return &chat.Conversation{
		ID:        c.ID,
		Type:      c.Type,
		Topic:     c.Topic,
		DirectKey: c.DirectKey,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
	}
}
