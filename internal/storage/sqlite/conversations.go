package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kbchat/backend/internal/storage/models"
)

func (c *Client) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	archived := 0
	if conv.Archived {
		archived = 1
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, owner, created_at, updated_at, archived)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Owner, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(), archived,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	return nil
}

// GetConversation returns nil without error when the id is unknown.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(c.db.QueryRowContext(ctx, `
		SELECT id, title, owner, created_at, updated_at, archived
		FROM conversations WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var createdAt, updatedAt int64
	var archived int

	err := row.Scan(&conv.ID, &conv.Title, &conv.Owner, &createdAt, &updatedAt, &archived)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	conv.Archived = archived != 0
	return &conv, nil
}

// InsertMessage appends a message and touches the parent conversation's
// updated_at in one transaction. Returns false when the conversation does
// not exist; nothing is written in that case.
func (c *Client) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := insertMessageTx(ctx, tx, msg)
	if err != nil || !ok {
		return ok, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit message: %w", err)
	}
	return true, nil
}

func insertMessageTx(ctx context.Context, tx *sql.Tx, msg *models.Message) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	// seq breaks ties between messages created within the same second, so
	// the transcript order stays total.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COUNT(*) FROM messages WHERE conversation_id = ?))`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt.Unix(), msg.ConversationID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	for _, ref := range msg.SourceRefs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_sources (message_id, source_ref) VALUES (?, ?)`,
			msg.ID, ref,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert message source: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.Unix(), msg.ConversationID)
	if err != nil {
		return false, fmt.Errorf("failed to touch conversation: %w", err)
	}

	return true, nil
}

// StartTurn reads the most recent dialogue context and appends the user
// message in a single transaction, so two concurrent turns on the same
// conversation cannot interleave out of causal order. The returned context
// excludes the message just appended. Returns ok=false when the
// conversation does not exist.
func (c *Client) StartTurn(ctx context.Context, userMsg *models.Message, maxTurns int) ([]models.Message, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`,
		userMsg.ConversationID, maxTurns*2,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read context: %w", err)
	}

	recent, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}

	// Rows came newest-first; replay order is chronological.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	ok, err := insertMessageTx(ctx, tx, userMsg)
	if err != nil || !ok {
		return nil, ok, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit turn: %w", err)
	}
	return recent, true, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var createdAt int64

		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// GetRecentMessages returns the most recent maxTurns*2 messages in
// chronological order.
func (c *Client) GetRecentMessages(ctx context.Context, conversationID string, maxTurns int) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`,
		conversationID, maxTurns*2,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetMessages returns a chronological page of a conversation's transcript
// plus the total message count.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	var total int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ? OFFSET ?`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	if err := c.loadMessageSources(ctx, messages); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (c *Client) loadMessageSources(ctx context.Context, messages []models.Message) error {
	for i := range messages {
		rows, err := c.db.QueryContext(ctx, `
			SELECT source_ref FROM message_sources WHERE message_id = ? ORDER BY id`,
			messages[i].ID,
		)
		if err != nil {
			return fmt.Errorf("failed to load message sources: %w", err)
		}

		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan source ref: %w", err)
			}
			messages[i].SourceRefs = append(messages[i].SourceRefs, ref)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}

// ListConversations returns a page of an owner's conversations ordered by
// updated_at descending, plus the total count for that filter.
func (c *Client) ListConversations(ctx context.Context, owner string, includeArchived bool, limit, offset int) ([]models.Conversation, int, error) {
	filter := `WHERE owner = ?`
	if !includeArchived {
		filter += ` AND archived = 0`
	}

	var total int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations `+filter, owner).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, title, owner, created_at, updated_at, archived
		FROM conversations `+filter+`
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, *conv)
	}

	return conversations, total, rows.Err()
}

// UpdateConversation applies the non-nil fields and refreshes updated_at.
// Returns nil when the conversation does not exist.
func (c *Client) UpdateConversation(ctx context.Context, id string, title *string, archived *bool, now time.Time) (*models.Conversation, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	conv, err := scanConversation(tx.QueryRowContext(ctx, `
		SELECT id, title, owner, created_at, updated_at, archived
		FROM conversations WHERE id = ?`, id))
	if err != nil || conv == nil {
		return nil, err
	}

	if title != nil {
		conv.Title = *title
	}
	if archived != nil {
		conv.Archived = *archived
	}
	conv.UpdatedAt = now

	archivedInt := 0
	if conv.Archived {
		archivedInt = 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET title = ?, archived = ?, updated_at = ? WHERE id = ?`,
		conv.Title, archivedInt, now.Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return conv, nil
}

// DeleteConversation removes the conversation; messages and message_sources
// go with it through the FK cascade.
func (c *Client) DeleteConversation(ctx context.Context, id string) (bool, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteConversationsBefore removes every conversation whose updated_at is
// strictly older than the cutoff. A conversation touched at exactly the
// cutoff instant is kept.
func (c *Client) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired conversations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

// CountMessages reports how many message rows reference a conversation,
// including after deletion for cascade verification.
func (c *Client) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
