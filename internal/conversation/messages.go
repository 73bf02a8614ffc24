// ABOUTME: Message operations of the Service
// ABOUTME: Send, edit, soft-delete, tag, list and search, each rendered for the requesting viewer

package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/metrics"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/store"
)

// SendRequest is a new message from a conversation member
type SendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	Attachments    []chat.AttachmentInput

	// ReplyTo must name a message in the same conversation
	ReplyTo *string
	// ForwardedFrom must name a message the sender can see
	ForwardedFrom *string
}

// MessageQuery narrows ListMessages and SearchMessages. Limit is clamped to
// [1, 100]; a blank Search matches everything.
type MessageQuery struct {
	Tag    *chat.MessageTag
	Search string
	Limit  int
	Offset int
}

// SendMessage stores a message and its attachments, marks it read for the
// sender, and notifies every member with a message_created event.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*chat.Message, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, s.failed("sending message", chat.ErrMessageBodyBlank.InConversation(req.ConversationID))
	}

	var (
		msg        *chat.Message
		convType   chat.ConversationType
		recipients []string
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		conv, err := s.ensureMembership(ctx, tx, req.ConversationID, req.SenderID)
		if err != nil {
			return err
		}
		convType = conv.Type

		if req.ReplyTo != nil {
			parent, err := tx.GetMessage(ctx, *req.ReplyTo)
			if errors.Is(err, store.ErrNotFound) || (err == nil && parent.ConversationID != req.ConversationID) {
				return chat.ErrMessageNotInConversation.InConversation(req.ConversationID).OnMessage(*req.ReplyTo)
			}
			if err != nil {
				return err
			}
		}
		if req.ForwardedFrom != nil {
			if err := s.checkForwardable(ctx, tx, *req.ForwardedFrom, req.SenderID); err != nil {
				return err
			}
		}

		now := s.clock()
		row := &store.Message{
			ID:             newMessageID(now),
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Body:           body,
			Tag:            chat.TagNone,
			ReplyTo:        req.ReplyTo,
			ForwardedFrom:  req.ForwardedFrom,
			CreatedAt:      now,
		}
		if err := tx.InsertMessage(ctx, row); err != nil {
			return err
		}
		if err := insertAttachments(ctx, tx, row.ID, req.Attachments, now); err != nil {
			return err
		}

		// The sender has always read their own message
		err = tx.UpsertReadMarker(ctx, &store.ReadMarker{
			ConversationID:    req.ConversationID,
			UserID:            req.SenderID,
			LastReadMessageID: &row.ID,
			LastReadAt:        now,
		})
		if err != nil {
			return err
		}

		if msg, err = renderMessage(ctx, tx, row, req.SenderID); err != nil {
			return err
		}
		recipients, err = memberIDs(ctx, tx, req.ConversationID)
		return err
	})
	if err != nil {
		return nil, s.failed("sending message", err)
	}

	metrics.MessagesSent.WithLabelValues(string(convType)).Inc()
	s.logger.Debug("message sent",
		"conversation_id", msg.ConversationID,
		"message_id", msg.ID,
		"sender_id", msg.SenderID)

	s.publish(ctx, presence.Event{
		Type:           presence.EventMessageCreated,
		ConversationID: msg.ConversationID,
		Recipients:     recipients,
		Message:        msg,
	})
	return msg, nil
}

// EditMessage changes the body and/or attachments of the requester's own
// message. A nil body leaves the text alone; nil attachments leave the
// existing set alone while a non-nil slice, even empty, replaces it.
func (s *Service) EditMessage(ctx context.Context, messageID, requesterID string, body *string, attachments []chat.AttachmentInput) (*chat.Message, error) {
	var msg *chat.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		row, err := s.loadOwnMessage(ctx, tx, messageID, requesterID)
		if err != nil {
			return err
		}

		if body != nil {
			trimmed := strings.TrimSpace(*body)
			if trimmed == "" {
				return chat.ErrMessageBodyBlank.OnMessage(messageID)
			}
			row.Body = trimmed
		}

		now := s.clock()
		row.EditedAt = &now
		if err := tx.UpdateMessage(ctx, row); err != nil {
			return err
		}

		if attachments != nil {
			if err := tx.DeleteAttachments(ctx, messageID); err != nil {
				return err
			}
			if err := insertAttachments(ctx, tx, messageID, attachments, now); err != nil {
				return err
			}
		}

		msg, err = renderMessage(ctx, tx, row, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("editing message", err)
	}

	s.logger.Debug("message edited", "message_id", messageID)
	return msg, nil
}

// DeleteMessage soft-deletes the requester's own message: the body is
// cleared, attachments are removed and the row is kept as a tombstone.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) (*chat.Message, error) {
	var msg *chat.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		row, err := s.loadOwnMessage(ctx, tx, messageID, requesterID)
		if err != nil {
			return err
		}

		now := s.clock()
		row.Body = ""
		row.DeletedAt = &now
		row.EditedAt = &now
		if err := tx.UpdateMessage(ctx, row); err != nil {
			return err
		}
		if err := tx.DeleteAttachments(ctx, messageID); err != nil {
			return err
		}

		msg, err = renderMessage(ctx, tx, row, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("deleting message", err)
	}

	s.logger.Debug("message deleted", "message_id", messageID)
	return msg, nil
}

// TagMessage sets the tag of a message. Any member may tag any live
// message, not only the sender.
func (s *Service) TagMessage(ctx context.Context, messageID, requesterID string, tag chat.MessageTag) (*chat.Message, error) {
	var msg *chat.Message
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

		row.Tag = tag
		if err := tx.UpdateMessage(ctx, row); err != nil {
			return err
		}

		msg, err = renderMessage(ctx, tx, row, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("tagging message", err)
	}
	return msg, nil
}

// ListMessages returns a page of a conversation's messages, oldest first.
// Deleted messages are included as tombstones with an empty body.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, q MessageQuery) ([]*chat.Message, error) {
	limit, offset := clampPage(q.Limit, q.Offset)

	var msgs []*chat.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.ensureMembership(ctx, tx, conversationID, requesterID); err != nil {
			return err
		}

		rows, err := tx.ListMessages(ctx, store.MessageQuery{
			ConversationID: conversationID,
			Tag:            q.Tag,
			Search:         strings.TrimSpace(q.Search),
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			return err
		}

		msgs, err = renderMessages(ctx, tx, rows, requesterID)
		return err
	})
	if err != nil {
		return nil, s.failed("listing messages", err)
	}
	return msgs, nil
}

// SearchMessages searches every conversation the user belongs to, newest
// first. Deleted messages never match.
func (s *Service) SearchMessages(ctx context.Context, userID string, q MessageQuery) ([]*chat.Message, error) {
	limit, offset := clampPage(q.Limit, q.Offset)

	var msgs []*chat.Message
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		rows, err := tx.ListMessages(ctx, store.MessageQuery{
			MemberID:       userID,
			Tag:            q.Tag,
			Search:         strings.TrimSpace(q.Search),
			ExcludeDeleted: true,
			NewestFirst:    true,
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			return err
		}

		msgs, err = renderMessages(ctx, tx, rows, userID)
		return err
	})
	if err != nil {
		return nil, s.failed("searching messages", err)
	}
	return msgs, nil
}

// loadOwnMessage applies the edit/delete checks in order: the message
// exists, is not deleted, belongs to the requester, and the requester is
// still a member.
func (s *Service) loadOwnMessage(ctx context.Context, tx store.Tx, messageID, requesterID string) (*store.Message, error) {
	row, err := s.loadMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if row.DeletedAt != nil {
		return nil, chat.ErrMessageDeleted.OnMessage(messageID)
	}
	if row.SenderID != requesterID {
		return nil, chat.ErrNotMessageOwner.OnMessage(messageID).ForUser(requesterID)
	}
	if _, err := s.ensureMembership(ctx, tx, row.ConversationID, requesterID); err != nil {
		return nil, err
	}
	return row, nil
}

// checkForwardable requires the source message to exist, be live, and sit
// in a conversation the sender belongs to
func (s *Service) checkForwardable(ctx context.Context, tx store.Tx, messageID, senderID string) error {
	src, err := s.loadMessage(ctx, tx, messageID)
	if err != nil {
		return err
	}
	if src.DeletedAt != nil {
		return chat.ErrMessageDeleted.OnMessage(messageID)
	}
	_, err = s.ensureMembership(ctx, tx, src.ConversationID, senderID)
	return err
}

func insertAttachments(ctx context.Context, tx store.Tx, messageID string, inputs []chat.AttachmentInput, now time.Time) error {
	if len(inputs) == 0 {
		return nil
	}
	rows := make([]store.Attachment, len(inputs))
	for i, in := range inputs {
		rows[i] = store.Attachment{
			ID:          newID(),
			MessageID:   messageID,
			FileName:    in.FileName,
			ContentType: in.ContentType,
			PayloadRef:  in.PayloadRef,
			CreatedAt:   now,
		}
	}
	return tx.InsertAttachments(ctx, rows)
}
