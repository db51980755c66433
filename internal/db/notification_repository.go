package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
)

// NotificationRepository persists in-app notices.
type NotificationRepository struct {
	db *DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create stores a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.RecipientID == "" {
		return fmt.Errorf("notification recipient is required")
	}
	if n.ConversationID == "" {
		return fmt.Errorf("notification conversation is required")
	}

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, recipient_id, conversation_id, message_kind, title, is_read, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		n.RecipientID,
		n.ConversationID,
		string(n.MessageKind),
		n.Title,
		boolToInt(n.IsRead),
		formatTime(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListForRecipient returns a user's notifications, newest first.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, recipient_id, conversation_id, message_kind, title, is_read, created_at
		FROM notifications
		WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var kind, createdAt string
		var isRead int
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ConversationID, &kind, &n.Title, &isRead, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.MessageKind = models.MessageKind(kind)
		n.IsRead = isRead != 0
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return notifications, nil
}

// MarkAllRead marks every notification for a recipient read and returns
// how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1
		WHERE recipient_id = ? AND is_read = 0
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return count, nil
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
