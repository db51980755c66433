// Package messaging is the unified inbox core. It merges application and
// direct conversations into one ranked inbox, serves live conversation
// feeds and owns read-state transitions. Persistence, transport and
// notification delivery are injected.
package messaging

import (
	"context"

	"github.com/cobuilders/inbox/internal/events"
	"github.com/cobuilders/inbox/internal/models"
)

// Store is the conversation store contract.
type Store interface {
	// FindConversation returns ErrNotFound when no conversation exists for key.
	FindConversation(ctx context.Context, key models.ConversationKey) (*models.Conversation, error)

	// CreateConversation must converge when called concurrently for the same
	// logical key, returning the one stored record.
	CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error)

	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsForParticipant(ctx context.Context, userID string) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, input models.NewMessage) (*models.Message, error)

	// ListMessages returns messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)

	// MarkRead is idempotent and touches only the listed ids.
	MarkRead(ctx context.Context, ids []string) (int64, error)
}

// Channel is the realtime broadcast the store publishes appends on.
type Channel interface {
	Subscribe(id string, filter events.Filter, handler events.EventHandler) error
	Unsubscribe(id string) error
}

// Directory resolves user profiles.
type Directory interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

// Applications resolves the applications that anchor application
// conversations.
type Applications interface {
	Get(ctx context.Context, applicationID string) (*models.Application, error)
}

// Notifier receives a notice after every successful send. Implementations
// must return promptly; delivery happens elsewhere.
type Notifier interface {
	Notify(notice models.Notice)
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.Notice) {}
