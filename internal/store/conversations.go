// ABOUTME: Conversation, membership and pin statements for the SQLite store
// ABOUTME: Direct-conversation lookup by key, viewer-ordered listing, batch member inserts

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/huddle/internal/chat"
)

const conversationColumns = `c.id, c.type, c.topic, c.direct_key, c.created_by, c.created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner, extra ...any) (*Conversation, error) {
	c := &Conversation{}
	var convType, createdAt string
	var topic, directKey sql.NullString

	dest := append([]any{&c.ID, &convType, &topic, &directKey, &c.CreatedBy, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	c.Type = chat.ConversationType(convType)
	c.Topic = nullString(topic)
	c.DirectKey = nullString(directKey)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return c, nil
}

// InsertConversation stores a new conversation. A second direct conversation
// with the same key yields ErrConflict.
func (t *sqliteTx) InsertConversation(ctx context.Context, c *Conversation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, topic, direct_key, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.Type), c.Topic, c.DirectKey, c.CreatedBy, formatTime(c.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	t.logger.Debug("created conversation", "id", c.ID, "type", c.Type)
	return nil
}

// GetConversation retrieves a conversation by ID
func (t *sqliteTx) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.id = ?
	`, id)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetDirectConversation retrieves the direct conversation for a canonical pair key
func (t *sqliteTx) GetDirectConversation(ctx context.Context, directKey string) (*Conversation, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.type = ? AND c.direct_key = ?
	`, string(chat.ConversationDirect), directKey)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying direct conversation: %w", err)
	}
	return c, nil
}

// UpdateConversationTopic sets or clears a conversation's topic
func (t *sqliteTx) UpdateConversationTopic(ctx context.Context, id string, topic *string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE conversations SET topic = ? WHERE id = ?`, topic, id)
	if err != nil {
		return fmt.Errorf("updating topic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUserConversations lists the conversations a user belongs to. Pinned
// conversations come first, most recently pinned on top, then the rest by
// creation time, newest first.
func (t *sqliteTx) ListUserConversations(ctx context.Context, userID string, limit, offset int) ([]*UserConversation, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+conversationColumns+`, p.pinned_at
		FROM conversations c
		JOIN conversation_members m
			ON m.conversation_id = c.id AND m.user_id = ?
		LEFT JOIN conversation_pins p
			ON p.conversation_id = c.id AND p.user_id = ?
		ORDER BY p.pinned_at IS NULL, p.pinned_at DESC, c.created_at DESC, c.id DESC
		LIMIT ? OFFSET ?
	`, userID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying user conversations: %w", err)
	}
	defer rows.Close()

	var result []*UserConversation
	for rows.Next() {
		var pinnedAt sql.NullString
		c, err := scanConversation(rows, &pinnedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		uc := &UserConversation{Conversation: *c}
		if uc.PinnedAt, err = parseNullTime(pinnedAt); err != nil {
			return nil, err
		}
		result = append(result, uc)
	}
	return result, rows.Err()
}

// InsertMembers adds membership rows in one statement. Pairs that already
// exist are left untouched.
func (t *sqliteTx) InsertMembers(ctx context.Context, members []Member) error {
	if len(members) == 0 {
		return nil
	}

	values := make([]string, len(members))
	args := make([]any, 0, len(members)*3)
	for i, m := range members {
		values[i] = "(?, ?, ?)"
		args = append(args, m.ConversationID, m.UserID, formatTime(m.JoinedAt))
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id, joined_at)
		VALUES `+strings.Join(values, ", ")+`
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, args...)
	if err != nil {
		return fmt.Errorf("inserting members: %w", err)
	}

	t.logger.Debug("inserted members", "conversation_id", members[0].ConversationID, "count", len(members))
	return nil
}

// DeleteMember removes a user from a conversation
func (t *sqliteTx) DeleteMember(ctx context.Context, conversationID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM conversation_members WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}
	return nil
}

// ListMembers returns a conversation's members ordered by join time
func (t *sqliteTx) ListMembers(ctx context.Context, conversationID string) ([]Member, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT conversation_id, user_id, joined_at
		FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var joinedAt string
		if err := rows.Scan(&m.ConversationID, &m.UserID, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		if m.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsMember reports whether the user belongs to the conversation
func (t *sqliteTx) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_members WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return true, nil
}

// UpsertPin pins a conversation for a user, keeping the original pin time
// if it was already pinned
func (t *sqliteTx) UpsertPin(ctx context.Context, pin *Pin) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversation_pins (conversation_id, user_id, pinned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, pin.ConversationID, pin.UserID, formatTime(pin.PinnedAt))
	if err != nil {
		return fmt.Errorf("inserting pin: %w", err)
	}
	return nil
}

// DeletePin unpins a conversation for a user
func (t *sqliteTx) DeletePin(ctx context.Context, conversationID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM conversation_pins WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("deleting pin: %w", err)
	}
	return nil
}

// GetPin returns a user's pin on a conversation
func (t *sqliteTx) GetPin(ctx context.Context, conversationID, userID string) (*Pin, error) {
	pin := &Pin{}
	var pinnedAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, pinned_at
		FROM conversation_pins
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&pin.ConversationID, &pin.UserID, &pinnedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pin: %w", err)
	}
	if pin.PinnedAt, err = parseTime(pinnedAt); err != nil {
		return nil, err
	}
	return pin, nil
}
