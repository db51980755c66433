package db

import (
	"context"

	"github.com/cobuilders/inbox/internal/models"
)

// Store exposes the conversation and message repositories through the
// single store contract the messaging core consumes.
type Store struct {
	Conversations *ConversationRepository
	Messages      *MessageRepository
}

// NewStore builds a Store whose writes are broadcast through the options'
// publisher.
func NewStore(db *DB, opts ...RepositoryOption) *Store {
	return &Store{
		Conversations: NewConversationRepository(db, opts...),
		Messages:      NewMessageRepository(db, opts...),
	}
}

func (s *Store) FindConversation(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	return s.Conversations.Find(ctx, key)
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	return s.Conversations.Create(ctx, conv)
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.Conversations.Get(ctx, id)
}

func (s *Store) ListConversationsForParticipant(ctx context.Context, userID string) ([]*models.Conversation, error) {
	return s.Conversations.ListForParticipant(ctx, userID)
}

func (s *Store) AppendMessage(ctx context.Context, input models.NewMessage) (*models.Message, error) {
	return s.Messages.Append(ctx, input)
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return s.Messages.List(ctx, conversationID)
}

func (s *Store) MarkRead(ctx context.Context, ids []string) (int64, error) {
	return s.Messages.MarkRead(ctx, ids)
}
