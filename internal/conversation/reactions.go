// ABOUTME: Reaction and typing operations of the Service
// ABOUTME: One reaction per user per message, aggregated for broadcast; typing signals are deduplicated

package conversation

import (
	"context"
	"errors"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/metrics"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/store"
)

// AllowedEmojis is the set of reactions a user may put on a message
var AllowedEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "👎"}

var allowedEmojiSet = func() map[string]bool {
	set := make(map[string]bool, len(AllowedEmojis))
	for _, e := range AllowedEmojis {
		set[e] = true
	}
	return set
}()

// ReactToMessage sets the requester's reaction on a message. A user holds
// at most one reaction per message: reacting again replaces the emoji and
// reports ReactionUpdated instead of ReactionAdded.
func (s *Service) ReactToMessage(ctx context.Context, messageID, requesterID, emoji string) (*chat.ReactionUpdate, error) {
	if !allowedEmojiSet[emoji] {
		return nil, s.failed("reacting to message", chat.ErrInvalidEmoji.OnMessage(messageID))
	}

	var update *chat.ReactionUpdate
	var recipients []string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		row, err := s.loadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if _, err := s.ensureMembership(ctx, tx, row.ConversationID, requesterID); err != nil {
			return err
		}
		if row.DeletedAt != nil {
			return chat.ErrMessageDeleted.OnMessage(messageID)
		}

		action := chat.ReactionUpdated
		_, err = tx.GetReaction(ctx, messageID, requesterID)
		if errors.Is(err, store.ErrNotFound) {
			action = chat.ReactionAdded
		} else if err != nil {
			return err
		}

		err = tx.UpsertReaction(ctx, &store.Reaction{
			ID:        newID(),
			MessageID: messageID,
			UserID:    requesterID,
			Emoji:     emoji,
			CreatedAt: s.clock(),
		})
		if err != nil {
			return err
		}

		update, recipients, err = s.reactionUpdate(ctx, tx, row, requesterID, emoji, action)
		return err
	})
	if err != nil {
		return nil, s.failed("reacting to message", err)
	}

	s.publishReaction(ctx, update, requesterID, recipients)
	return update, nil
}

// RemoveReaction clears the requester's reaction. Removing a reaction that
// does not exist still succeeds and reports ReactionRemoved.
func (s *Service) RemoveReaction(ctx context.Context, messageID, requesterID string) (*chat.ReactionUpdate, error) {
	var update *chat.ReactionUpdate
	var recipients []string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		row, err := s.loadMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if _, err := s.ensureMembership(ctx, tx, row.ConversationID, requesterID); err != nil {
			return err
		}

		if err := tx.DeleteReaction(ctx, messageID, requesterID); err != nil {
			return err
		}

		update, recipients, err = s.reactionUpdate(ctx, tx, row, requesterID, "", chat.ReactionRemoved)
		return err
	})
	if err != nil {
		return nil, s.failed("removing reaction", err)
	}

	s.publishReaction(ctx, update, requesterID, recipients)
	return update, nil
}

// reactionUpdate renders the message for the requester and the neutral
// aggregate for everyone else
func (s *Service) reactionUpdate(ctx context.Context, tx store.Tx, row *store.Message, requesterID, emoji string, action chat.ReactionAction) (*chat.ReactionUpdate, []string, error) {
	msg, err := renderMessage(ctx, tx, row, requesterID)
	if err != nil {
		return nil, nil, err
	}
	reactions, err := tx.ListReactions(ctx, []string{row.ID})
	if err != nil {
		return nil, nil, err
	}
	recipients, err := memberIDs(ctx, tx, row.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	return &chat.ReactionUpdate{
		Message:        msg,
		ConversationID: row.ConversationID,
		Emoji:          emoji,
		Action:         action,
		Reactions:      reactionCounts(reactions),
	}, recipients, nil
}

// publishReaction sends the viewer-neutral aggregate; the requester's
// rendering of the message carries reactedByMe and is not broadcast.
func (s *Service) publishReaction(ctx context.Context, update *chat.ReactionUpdate, actorID string, recipients []string) {
	metrics.Reactions.WithLabelValues(string(update.Action)).Inc()
	s.publish(ctx, presence.Event{
		Type:           presence.EventReactionUpdated,
		ConversationID: update.ConversationID,
		Recipients:     recipients,
		MessageID:      update.Message.ID,
		ReaderID:       actorID,
		ReactionEmoji:  update.Emoji,
		ReactionAction: update.Action,
		Reactions:      update.Reactions,
	})
}

// SetTyping tells the other members that userID started or stopped typing.
// Repeated start signals inside the typing window are dropped, so a user who
// keeps typing is re-announced once per window; a stop signal always goes
// out and re-arms the next start.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	var recipients []string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.ensureMembership(ctx, tx, conversationID, userID); err != nil {
			return err
		}
		ids, err := memberIDs(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id != userID {
				recipients = append(recipients, id)
			}
		}
		return nil
	})
	if err != nil {
		return s.failed("setting typing", err)
	}

	status := presence.StatusStopped
	if typing {
		status = presence.StatusTyping
	}

	if s.typing != nil {
		key := dedupe.Key(conversationID, userID)
		if !typing {
			s.typing.Forget(key)
		} else if s.typing.CheckAndMark(key) {
			metrics.TypingSuppressed.Inc()
			return nil
		}
	}

	// Nobody else to tell
	if len(recipients) == 0 {
		return nil
	}

	s.publish(ctx, presence.Event{
		Type:           presence.EventUserTyping,
		ConversationID: conversationID,
		Recipients:     recipients,
		ReaderID:       userID,
		Status:         status,
	})
	return nil
}
