// ABOUTME: Service is the aggregate root for conversations, members and messages
// ABOUTME: Every operation is one store unit of work; real-time events are published after commit

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389/huddle/internal/chat"
	"github.com/2389/huddle/internal/dedupe"
	"github.com/2389/huddle/internal/metrics"
	"github.com/2389/huddle/internal/presence"
	"github.com/2389/huddle/internal/store"
)

// Page sizes are clamped to [1, maxPageSize]
const maxPageSize = 100

// Publisher delivers real-time events to connected users
type Publisher interface {
	Broadcast(ctx context.Context, event presence.Event)
}

// Service owns the conversation lifecycle and derives per-viewer state
// (status, readers, unread counts, reactions) from the stored aggregate.
type Service struct {
	store     store.Store
	publisher Publisher
	typing    *dedupe.Cache
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a conversation service. publisher and typing may be nil: a
// nil publisher drops events and a nil typing cache disables suppression
// of repeated typing signals. Pass nil logger for default.
func New(st store.Store, publisher Publisher, typing *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		typing:    typing,
		now:       time.Now,
		logger:    logger.With("component", "conversation"),
	}
}

// ConversationMemberIDs returns the ids of a conversation's members
func (s *Service) ConversationMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.loadConversation(ctx, tx, conversationID); err != nil {
			return err
		}
		var err error
		ids, err = memberIDs(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return nil, s.failed("listing member ids", err)
	}
	return ids, nil
}

// AssertMembership fails unless userID belongs to the conversation
func (s *Service) AssertMembership(ctx context.Context, conversationID, userID string) error {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		_, err := s.ensureMembership(ctx, tx, conversationID, userID)
		return err
	})
	if err != nil {
		return s.failed("asserting membership", err)
	}
	return nil
}

// clock returns the current time in UTC
func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// loadConversation maps a missing row to conversation_not_found
func (s *Service) loadConversation(ctx context.Context, tx store.Tx, conversationID string) (*store.Conversation, error) {
	conv, err := tx.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chat.ErrConversationNotFound.InConversation(conversationID)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// loadMessage maps a missing row to message_not_found
func (s *Service) loadMessage(ctx context.Context, tx store.Tx, messageID string) (*store.Message, error) {
	msg, err := tx.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chat.ErrMessageNotFound.OnMessage(messageID)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ensureMembership checks the conversation exists and userID is a member
func (s *Service) ensureMembership(ctx context.Context, tx store.Tx, conversationID, userID string) (*store.Conversation, error) {
	conv, err := s.loadConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	ok, err := tx.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chat.ErrNotConversationMember.InConversation(conversationID).ForUser(userID)
	}
	return conv, nil
}

// ensureGroupOwner checks the conversation is a group created by requesterID
func (s *Service) ensureGroupOwner(ctx context.Context, tx store.Tx, conversationID, requesterID string) (*store.Conversation, error) {
	conv, err := s.loadConversation(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Type != chat.ConversationGroup {
		return nil, chat.ErrNotGroupConversation.InConversation(conversationID)
	}
	if conv.CreatedBy != requesterID {
		return nil, chat.ErrNotConversationOwner.InConversation(conversationID).ForUser(requesterID)
	}
	return conv, nil
}

// failed records caller errors and wraps everything else with the operation
func (s *Service) failed(op string, err error) error {
	if kind, ok := chat.KindOf(err); ok {
		metrics.ServiceErrors.WithLabelValues(kind.String()).Inc()
		s.logger.Debug("rejected request", "op", op, "error", err)
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// publish hands an event to the publisher, if any. Called only after the
// unit of work committed.
func (s *Service) publish(ctx context.Context, event presence.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Broadcast(ctx, event)
}

func memberIDs(ctx context.Context, tx store.Tx, conversationID string) ([]string, error) {
	members, err := tx.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// directKey is the canonical, order-independent key of a user pair
func directKey(a, b string) string {
	pair := []string{a, b}
	slices.Sort(pair)
	return strings.Join(pair, ":")
}

// normalizeTopic treats a blank topic as absent
func normalizeTopic(topic *string) *string {
	if topic == nil {
		return nil
	}
	t := strings.TrimSpace(*topic)
	if t == "" {
		return nil
	}
	return &t
}

func clampPage(limit, offset int) (int, int) {
	return max(1, min(limit, maxPageSize)), max(offset, 0)
}

func newID() string {
	return uuid.New().String()
}

// newMessageID returns a ULID so that ids sort by creation time, which
// breaks ties between messages created in the same instant.
func newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
