// ABOUTME: Reaction and read-marker statements for the SQLite store
// ABOUTME: One reaction per (message, user) and one marker per (conversation, user), both upserted

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetReaction returns the reaction a user holds on a message
func (t *sqliteTx) GetReaction(ctx context.Context, messageID, userID string) (*Reaction, error) {
	r := &Reaction{}
	var createdAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ? AND user_id = ?
	`, messageID, userID).Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying reaction: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return r, nil
}

// UpsertReaction sets the user's reaction on a message. An existing row for
// the same (message, user) keeps its id and has its emoji overwritten.
func (t *sqliteTx) UpsertReaction(ctx context.Context, r *Reaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO message_reactions (id, message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (message_id, user_id) DO UPDATE SET
			emoji = excluded.emoji,
			created_at = excluded.created_at
	`, r.ID, r.MessageID, r.UserID, r.Emoji, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting reaction: %w", err)
	}
	return nil
}

// DeleteReaction removes a user's reaction. Deleting a missing reaction is not an error.
func (t *sqliteTx) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?
	`, messageID, userID)
	if err != nil {
		return fmt.Errorf("deleting reaction: %w", err)
	}
	return nil
}

// ListReactions returns every reaction on the given messages
func (t *sqliteTx) ListReactions(ctx context.Context, messageIDs []string) ([]Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	marks, args := inClause(messageIDs)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id IN (`+marks+`)
		ORDER BY created_at ASC, user_id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		var createdAt string
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// GetReadMarker returns a member's read marker for a conversation
func (t *sqliteTx) GetReadMarker(ctx context.Context, conversationID, userID string) (*ReadMarker, error) {
	rm := &ReadMarker{}
	var lastReadID sql.NullString
	var lastReadAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, last_read_message_id, last_read_at
		FROM conversation_read_markers
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&rm.ConversationID, &rm.UserID, &lastReadID, &lastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying read marker: %w", err)
	}
	rm.LastReadMessageID = nullString(lastReadID)
	if rm.LastReadAt, err = parseTime(lastReadAt); err != nil {
		return nil, err
	}
	return rm, nil
}

// UpsertReadMarker moves a member's marker, creating it on first use
func (t *sqliteTx) UpsertReadMarker(ctx context.Context, marker *ReadMarker) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversation_read_markers (conversation_id, user_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_read_at = excluded.last_read_at
	`, marker.ConversationID, marker.UserID, marker.LastReadMessageID, formatTime(marker.LastReadAt))
	if err != nil {
		return fmt.Errorf("upserting read marker: %w", err)
	}

	t.logger.Debug("moved read marker", "conversation_id", marker.ConversationID, "user_id", marker.UserID)
	return nil
}

// DeleteReadMarker forgets a member's marker
func (t *sqliteTx) DeleteReadMarker(ctx context.Context, conversationID, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM conversation_read_markers WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("deleting read marker: %w", err)
	}
	return nil
}

// ListReadMarkers returns every marker held in a conversation
func (t *sqliteTx) ListReadMarkers(ctx context.Context, conversationID string) ([]ReadMarker, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT conversation_id, user_id, last_read_message_id, last_read_at
		FROM conversation_read_markers
		WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying read markers: %w", err)
	}
	defer rows.Close()

	var markers []ReadMarker
	for rows.Next() {
		var rm ReadMarker
		var lastReadID sql.NullString
		var lastReadAt string
		if err := rows.Scan(&rm.ConversationID, &rm.UserID, &lastReadID, &lastReadAt); err != nil {
			return nil, fmt.Errorf("scanning read marker: %w", err)
		}
		rm.LastReadMessageID = nullString(lastReadID)
		if rm.LastReadAt, err = parseTime(lastReadAt); err != nil {
			return nil, err
		}
		markers = append(markers, rm)
	}
	return markers, rows.Err()
}
