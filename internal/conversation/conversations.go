// ABOUTME: Conversation lifecycle operations of the Service
// ABOUTME: Direct and group creation, topic and membership changes, pins, listing and read markers

package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/metrics"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/store"
)

// CreateDirectConversation returns the direct conversation between the two
// users, creating it on first use. An existing conversation is returned
// unchanged, including its topic.
func (s *Service) CreateDirectConversation(ctx context.Context, initiatorID, targetID string, topic *string) (*chat.Conversation, error) {
	if initiatorID == targetID {
		return nil, s.failed("creating direct conversation", chat.ErrConversationWithSelf.ForUser(initiatorID))
	}

	key := directKey(initiatorID, targetID)
	var conv *store.Conversation
	created := false

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetDirectConversation(ctx, key)
		if err == nil {
			conv = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.clock()
		conv = &store.Conversation{
			ID:        newID(),
			Type:      chat.ConversationDirect,
			Topic:     normalizeTopic(topic),
			DirectKey: &key,
			CreatedBy: initiatorID,
			CreatedAt: now,
		}
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return err
		}
		created = true
		return tx.InsertMembers(ctx, []store.Member{
			{ConversationID: conv.ID, UserID: initiatorID, JoinedAt: now},
			{ConversationID: conv.ID, UserID: targetID, JoinedAt: now},
		})
	})

	// Another writer created the pair first; theirs is the conversation
	if errors.Is(err, store.ErrConflict) {
		created = false
		err = s.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			conv, err = tx.GetDirectConversation(ctx, key)
			return err
		})
	}
	if err != nil {
		return nil, s.failed("creating direct conversation", err)
	}

	if created {
		metrics.ConversationsCreated.WithLabelValues(string(chat.ConversationDirect)).Inc()
		s.logger.Info("direct conversation created", "conversation_id", conv.ID)
	}
	return toConversation(conv), nil
}

// CreateGroupConversation creates a group. The creator is always a member;
// the de-duplicated member set must contain at least two users.
func (s *Service) CreateGroupConversation(ctx context.Context, creatorID string, memberIDs []string, topic *string) (*chat.Conversation, error) {
	ids := uniqueIDs(append([]string{creatorID}, memberIDs...))
	if len(ids) < 2 {
		return nil, s.failed("creating group conversation", chat.ErrGroupRequiresMembers.ForUser(creatorID))
	}

	now := s.clock()
	conv := &store.Conversation{
		ID:        newID(),
		Type:      chat.ConversationGroup,
		Topic:     normalizeTopic(topic),
		CreatedBy: creatorID,
		CreatedAt: now,
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertConversation(ctx, conv); err != nil {
			return err
		}
		members := make([]store.Member, len(ids))
		for i, id := range ids {
			members[i] = store.Member{ConversationID: conv.ID, UserID: id, JoinedAt: now}
		}
		return tx.InsertMembers(ctx, members)
	})
	if err != nil {
		return nil, s.failed("creating group conversation", err)
	}

	metrics.ConversationsCreated.WithLabelValues(string(chat.ConversationGroup)).Inc()
	s.logger.Info("group conversation created", "conversation_id", conv.ID, "members", len(ids))
	return toConversation(conv), nil
}

// UpdateConversationTopic sets a group's topic. Only the owner may do so;
// a blank topic clears it.
func (s *Service) UpdateConversationTopic(ctx context.Context, conversationID, requesterID string, topic *string) (*chat.Conversation, error) {
	var conv *store.Conversation
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if conv, err = s.ensureGroupOwner(ctx, tx, conversationID, requesterID); err != nil {
			return err
		}
		conv.Topic = normalizeTopic(topic)
		return tx.UpdateConversationTopic(ctx, conversationID, conv.Topic)
	})
	if err != nil {
		return nil, s.failed("updating topic", err)
	}
	return toConversation(conv), nil
}

// AddMembers adds users to a group. Only the owner may do so; users who are
// already members are skipped. Returns the resulting member list.
func (s *Service) AddMembers(ctx context.Context, conversationID, requesterID string, memberIDs []string) ([]chat.Member, error) {
	var members []chat.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.ensureGroupOwner(ctx, tx, conversationID, requesterID); err != nil {
			return err
		}

		now := s.clock()
		ids := uniqueIDs(memberIDs)
		rows := make([]store.Member, len(ids))
		for i, id := range ids {
			rows[i] = store.Member{ConversationID: conversationID, UserID: id, JoinedAt: now}
		}
		if err := tx.InsertMembers(ctx, rows); err != nil {
			return err
		}

		var err error
		members, err = listMembers(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return nil, s.failed("adding members", err)
	}
	return members, nil
}

// RemoveMember removes memberID from the conversation. The owner may remove
// anyone and any member may remove themself. The removed user's read marker
// is dropped with the membership. Returns the remaining member list.
func (s *Service) RemoveMember(ctx context.Context, conversationID, requesterID, memberID string) ([]chat.Member, error) {
	var members []chat.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := s.ensureMembership(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		if conv.CreatedBy != requesterID && requesterID != memberID {
			return chat.ErrNotAuthorized.InConversation(conversationID).ForUser(requesterID)
		}

		if err := tx.DeleteMember(ctx, conversationID, memberID); err != nil {
			return err
		}
		if err := tx.DeleteReadMarker(ctx, conversationID, memberID); err != nil {
			return err
		}

		members, err = listMembers(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return nil, s.failed("removing member", err)
	}

	s.logger.Debug("member removed", "conversation_id", conversationID, "user_id", memberID)
	return members, nil
}

// PinConversation pins the conversation to the top of the requester's list.
// Pinning twice keeps the original pin time.
func (s *Service) PinConversation(ctx context.Context, conversationID, requesterID string) (*chat.ConversationSummary, error) {
	var summary *chat.ConversationSummary
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := s.ensureMembership(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		pin := &store.Pin{ConversationID: conversationID, UserID: requesterID, PinnedAt: s.clock()}
		if err := tx.UpsertPin(ctx, pin); err != nil {
			return err
		}
		summary, err = viewerSummary(ctx, tx, conv, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("pinning conversation", err)
	}
	return summary, nil
}

// UnpinConversation removes the requester's pin, if any
func (s *Service) UnpinConversation(ctx context.Context, conversationID, requesterID string) (*chat.ConversationSummary, error) {
	var summary *chat.ConversationSummary
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := s.ensureMembership(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		if err := tx.DeletePin(ctx, conversationID, requesterID); err != nil {
			return err
		}
		summary, err = summarize(ctx, tx, conv, nil, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("unpinning conversation", err)
	}
	return summary, nil
}

// ListConversations returns the user's conversations, most recently pinned
// first and then most recently created. limit is clamped to [1, 100].
func (s *Service) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*chat.ConversationSummary, error) {
	limit, offset = clampPage(limit, offset)

	summaries := []*chat.ConversationSummary{}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		convs, err := tx.ListUserConversations(ctx, userID, limit, offset)
		if err != nil {
			return err
		}
		for _, c := range convs {
			summary, err := summarize(ctx, tx, &c.Conversation, c.PinnedAt, userID)
			if err != nil {
				return err
			}
			summaries = append(summaries, summary)
		}
		return nil
	})
	if err != nil {
		return nil, s.failed("listing conversations", err)
	}
	return summaries, nil
}

// GetConversation returns the requester's summary of one conversation
func (s *Service) GetConversation(ctx context.Context, conversationID, requesterID string) (*chat.ConversationSummary, error) {
	var summary *chat.ConversationSummary
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := s.ensureMembership(ctx, tx, conversationID, requesterID)
		if err != nil {
			return err
		}
		summary, err = viewerSummary(ctx, tx, conv, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("getting conversation", err)
	}
	return summary, nil
}

// MarkConversationRead moves the user's read marker to now. A message id,
// when given, must belong to the conversation and is recorded on the marker.
// Every member is notified with a conversation_read event.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string, messageID *string) error {
	var recipients []string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.ensureMembership(ctx, tx, conversationID, userID); err != nil {
			return err
		}

		if messageID != nil {
			msg, err := tx.GetMessage(ctx, *messageID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && msg.ConversationID != conversationID) {
				return chat.ErrMessageNotInConversation.InConversation(conversationID).OnMessage(*messageID)
			}
			if err != nil {
				return err
			}
		}

		err := tx.UpsertReadMarker(ctx, &store.ReadMarker{
			ConversationID:    conversationID,
			UserID:            userID,
			LastReadMessageID: messageID,
			LastReadAt:        s.clock(),
		})
		if err != nil {
			return err
		}

		recipients, err = memberIDs(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return s.failed("marking conversation read", err)
	}

	event := presence.Event{
		Type:           presence.EventConversationRead,
		ConversationID: conversationID,
		Recipients:     recipients,
		ReaderID:       userID,
		Status:         presence.StatusRead,
	}
	if messageID != nil {
		event.MessageID = *messageID
	}
	s.publish(ctx, event)
	return nil
}

// uniqueIDs drops blanks and duplicates, keeping first occurrences in order
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
