// ABOUTME: Message and attachment statements for the SQLite store
// ABOUTME: Filtered message scans (tag, folded-body substring, member scope), counts and soft-delete updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/huddle/internal/chat"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.tag,
	m.reply_to, m.forwarded_from, m.created_at, m.edited_at, m.deleted_at`

func scanMessage(row rowScanner) (*Message, error) {
	m := &Message{}
	var tag, createdAt string
	var replyTo, forwardedFrom, editedAt, deletedAt sql.NullString

	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &tag,
		&replyTo, &forwardedFrom, &createdAt, &editedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	m.Tag = chat.MessageTag(tag)
	m.ReplyTo = nullString(replyTo)
	m.ForwardedFrom = nullString(forwardedFrom)
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.EditedAt, err = parseNullTime(editedAt); err != nil {
		return nil, err
	}
	if m.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// foldBody lowercases text for case-insensitive matching. SQLite's lower()
// only folds ASCII, so the folded copy is computed here and stored alongside.
func foldBody(s string) string {
	return strings.ToLower(s)
}

// InsertMessage stores a new message
func (t *sqliteTx) InsertMessage(ctx context.Context, m *Message) error {
	tag := m.Tag
	if tag == "" {
		tag = chat.TagNone
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, body_folded, tag,
			reply_to, forwarded_from, created_at, edited_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ConversationID, m.SenderID, m.Body, foldBody(m.Body), string(tag),
		m.ReplyTo, m.ForwardedFrom, formatTime(m.CreatedAt),
		formatNullTime(m.EditedAt), formatNullTime(m.DeletedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	t.logger.Debug("inserted message", "id", m.ID, "conversation_id", m.ConversationID)
	return nil
}

// GetMessage retrieves a message by ID, deleted or not
func (t *sqliteTx) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.id = ?
	`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return m, nil
}

// UpdateMessage overwrites the mutable columns of a message: body, tag and
// the edit/delete timestamps
func (t *sqliteTx) UpdateMessage(ctx context.Context, m *Message) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET body = ?, body_folded = ?, tag = ?, edited_at = ?, deleted_at = ?
		WHERE id = ?
	`, m.Body, foldBody(m.Body), string(m.Tag),
		formatNullTime(m.EditedAt), formatNullTime(m.DeletedAt), m.ID)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	t.logger.Debug("updated message", "id", m.ID)
	return nil
}

// ListMessages scans messages matching q. Results are ordered by creation
// time (ascending unless q.NewestFirst), ties broken by id.
func (t *sqliteTx) ListMessages(ctx context.Context, q MessageQuery) ([]*Message, error) {
	var (
		joins  string
		conds  []string
		args   []any
		cursor = "ASC"
	)

	if q.MemberID != "" {
		joins = `JOIN conversation_members cm
			ON cm.conversation_id = m.conversation_id AND cm.user_id = ?`
		args = append(args, q.MemberID)
	}
	if q.ConversationID != "" {
		conds = append(conds, "m.conversation_id = ?")
		args = append(args, q.ConversationID)
	}
	if q.Tag != nil {
		conds = append(conds, "m.tag = ?")
		args = append(args, string(*q.Tag))
	}
	if q.Search != "" {
		conds = append(conds, "instr(m.body_folded, ?) > 0")
		args = append(args, foldBody(q.Search))
	}
	if q.ExcludeDeleted {
		conds = append(conds, "m.deleted_at IS NULL")
	}
	if q.NewestFirst {
		cursor = "DESC"
	}

	query := `SELECT ` + messageColumns + ` FROM messages m ` + joins
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY m.created_at %s, m.id %s`, cursor, cursor)

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(q.Offset, 0))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastMessage returns the newest non-deleted message in a conversation,
// or ErrNotFound if there is none
func (t *sqliteTx) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_id = ? AND m.deleted_at IS NULL
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, conversationID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last message: %w", err)
	}
	return m, nil
}

// CountMessagesAfter counts non-deleted messages created strictly after
// the given time. A nil time counts every non-deleted message.
func (t *sqliteTx) CountMessagesAfter(ctx context.Context, conversationID string, after *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND deleted_at IS NULL`
	args := []any{conversationID}
	if after != nil {
		query += ` AND created_at > ?`
		args = append(args, formatTime(*after))
	}

	var n int
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// InsertAttachments stores attachments in one statement
func (t *sqliteTx) InsertAttachments(ctx context.Context, attachments []Attachment) error {
	if len(attachments) == 0 {
		return nil
	}

	values := make([]string, len(attachments))
	args := make([]any, 0, len(attachments)*6)
	for i, a := range attachments {
		values[i] = "(?, ?, ?, ?, ?, ?)"
		args = append(args, a.ID, a.MessageID, a.FileName, a.ContentType, a.PayloadRef, formatTime(a.CreatedAt))
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO message_attachments (id, message_id, file_name, content_type, payload_ref, created_at)
		VALUES `+strings.Join(values, ", "), args...)
	if err != nil {
		return fmt.Errorf("inserting attachments: %w", err)
	}
	return nil
}

// DeleteAttachments removes every attachment of a message
func (t *sqliteTx) DeleteAttachments(ctx context.Context, messageID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM message_attachments WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("deleting attachments: %w", err)
	}
	return nil
}

// ListAttachments returns the attachments of the given messages in insertion order
func (t *sqliteTx) ListAttachments(ctx context.Context, messageIDs []string) ([]Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	marks, args := inClause(messageIDs)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, message_id, file_name, content_type, payload_ref, created_at
		FROM message_attachments
		WHERE message_id IN (`+marks+`)
		ORDER BY created_at ASC, rowid ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		var createdAt string
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.ContentType, &a.PayloadRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
