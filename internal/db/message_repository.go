package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cobuilders/inbox/internal/models"
)

// MessageRepository persists messages and their read flags.
type MessageRepository struct {
	db   *DB
	opts repositoryOptions
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB, opts ...RepositoryOption) *MessageRepository {
	return &MessageRepository{db: db, opts: applyOptions(opts)}
}

const messageColumns = `
	id, conversation_id, sender_id, content,
	attachment_url, attachment_name, attachment_type,
	seq, created_at, is_read`

// Append stores a new unread message at the end of its conversation and
// broadcasts it once the write commits.
//
// The assigned CreatedAt never precedes the previous message's, even if the
// wall clock steps backwards.
func (r *MessageRepository) Append(ctx context.Context, input models.NewMessage) (*models.Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             r.opts.newID(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		Content:        input.Content,
		Attachment:     input.Attachment,
	}

	var participants []string
	err := r.db.WriteTransaction(ctx, func(tx *sql.Tx) error {
		var a, b string
		err := tx.QueryRowContext(ctx, `
			SELECT participant_a, participant_b FROM conversations WHERE id = ?
		`, input.ConversationID).Scan(&a, &b)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		if input.SenderID != a && input.SenderID != b {
			return fmt.Errorf("sender is not a participant: %w", models.ErrAccessDenied)
		}
		participants = []string{a, b}

		var lastSeq int64
		var lastCreated sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT seq, created_at FROM messages
			WHERE conversation_id = ?
			ORDER BY seq DESC
			LIMIT 1
		`, input.ConversationID).Scan(&lastSeq, &lastCreated)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read last message: %w", err)
		}

		createdAt := r.opts.now().UTC().Truncate(time.Microsecond)
		if lastCreated.Valid {
			last, err := parseTime(lastCreated.String)
			if err != nil {
				return err
			}
			if !createdAt.After(last) {
				createdAt = last.Add(time.Microsecond)
			}
		}
		msg.Seq = lastSeq + 1
		msg.CreatedAt = createdAt

		var url, name, typ *string
		if msg.Attachment != nil {
			url, name, typ = &msg.Attachment.URL, &msg.Attachment.Name, &msg.Attachment.Type
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (
				id, conversation_id, sender_id, content,
				attachment_url, attachment_name, attachment_type,
				seq, created_at, is_read
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`,
			msg.ID,
			msg.ConversationID,
			msg.SenderID,
			msg.Content,
			url,
			name,
			typ,
			msg.Seq,
			formatTime(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	copied := *msg
	r.opts.publish(ctx, &models.Event{
		Type:           models.EventTypeMessageAppended,
		ConversationID: msg.ConversationID,
		Participants:   participants,
		Message:        &copied,
	})

	return msg, nil
}

// List returns a conversation's messages in append order.
func (r *MessageRepository) List(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// MarkRead flips is_read on exactly the given messages. Already-read and
// unknown ids are skipped, so repeating a call is harmless. Returns the
// number of messages that changed.
func (r *MessageRepository) MarkRead(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	type change struct {
		participants []string
		ids          []string
	}
	changes := make(map[string]*change)
	var order []string
	var total int64

	err := r.db.WriteTransaction(ctx, func(tx *sql.Tx) error {
		clear(changes)
		order = order[:0]
		total = 0

		rows, err := tx.QueryContext(ctx, `
			SELECT m.id, m.conversation_id, c.participant_a, c.participant_b
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.is_read = 0 AND m.id IN (`+placeholders(len(ids))+`)
			ORDER BY m.conversation_id, m.seq
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to query unread messages: %w", err)
		}
		var pending []any
		for rows.Next() {
			var id, convID, a, b string
			if err := rows.Scan(&id, &convID, &a, &b); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan unread message: %w", err)
			}
			c, ok := changes[convID]
			if !ok {
				c = &change{participants: []string{a, b}}
				changes[convID] = c
				order = append(order, convID)
			}
			c.ids = append(c.ids, id)
			pending = append(pending, id)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("failed to close rows: %w", err)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating unread messages: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE messages SET is_read = 1
			WHERE is_read = 0 AND id IN (`+placeholders(len(pending))+`)
		`, pending...)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		total, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, convID := range order {
		c := changes[convID]
		r.opts.publish(ctx, &models.Event{
			Type:           models.EventTypeMessagesRead,
			ConversationID: convID,
			Participants:   c.participants,
			MessageIDs:     c.ids,
		})
	}

	return total, nil
}

// CountUnread counts messages in a conversation not sent by viewer and not
// yet read.
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, viewer string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
	`, conversationID, viewer).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var url, name, typ sql.NullString
	var createdAt string
	var isRead int

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&url,
		&name,
		&typ,
		&msg.Seq,
		&createdAt,
		&isRead,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	msg.IsRead = isRead != 0
	if url.Valid {
		msg.Attachment = &models.Attachment{URL: url.String, Name: name.String, Type: typ.String}
	}
	return &msg, nil
}
