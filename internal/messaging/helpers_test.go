package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cobuilders/inbox/internal/db"
	"github.com/cobuilders/inbox/internal/events"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db       *db.DB
	hub      *events.Hub
	store    *db.Store
	apps     *db.ApplicationRepository
	profiles *db.ProfileRepository
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.Migrate(context.Background()))

	hub := events.NewHub()
	f := &fixture{
		db:       database,
		hub:      hub,
		store:    db.NewStore(database, db.WithPublisher(hub)),
		apps:     db.NewApplicationRepository(database),
		profiles: db.NewProfileRepository(database),
		notifier: &recordingNotifier{},
	}

	ctx := context.Background()
	for _, p := range []*models.Profile{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
		{ID: "carol", DisplayName: "Carol"},
		{ID: "ivy", DisplayName: "Ivy (initiator)"},
		{ID: "jay", DisplayName: "Jay (applicant)"},
	} {
		require.NoError(t, f.profiles.Upsert(ctx, p))
	}

	base := []Option{
		WithNotifier(f.notifier),
		WithDirectory(f.profiles),
		WithApplications(f.apps),
		WithReadRetryBackoff(0),
		WithInboxDebounce(0),
	}
	f.svc, err = NewService(f.store, hub, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) direct(t *testing.T, a, b string) *models.Conversation {
	t.Helper()
	conv, err := f.svc.Aggregator().ResolveDirectConversation(context.Background(), b, a)
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, conv *models.Conversation, sender, content string) *models.Message {
	t.Helper()
	msg, err := f.store.AppendMessage(context.Background(), models.NewMessage{
		ConversationID: conv.ID,
		SenderID:       sender,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

func (f *fixture) open(t *testing.T, target Target, viewer string) *Feed {
	t.Helper()
	feed, err := f.svc.OpenConversation(context.Background(), target, viewer)
	require.NoError(t, err)
	t.Cleanup(feed.Close)
	return feed
}

func (f *fixture) unread(t *testing.T, conv *models.Conversation, viewer string) int {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	return models.CountUnread(msgs, viewer)
}

func entryFor(entries []models.InboxEntry, conversationID string) *models.InboxEntry {
	for i := range entries {
		if entries[i].Conversation.ID == conversationID {
			return &entries[i]
		}
	}
	return nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []models.Notice
}

func (n *recordingNotifier) Notify(notice models.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []models.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notice(nil), n.notices...)
}

var errBackendDown = errors.New("backend unavailable")

// faultyStore wraps a real store and injects failures per operation.
type faultyStore struct {
	Store

	mu                    sync.Mutex
	listConversationFails int
	listMessageFails      int
	markReadFails         int
	appendErr             error
	appendCalls           int
	markReadCalls         int
	listMessagesGate      chan struct{}
	// foreign is returned for every conversation lookup or creation.
	foreign *models.Conversation
}

func (s *faultyStore) FindConversation(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	if s.foreign != nil {
		return s.foreign, nil
	}
	return s.Store.FindConversation(ctx, key)
}

func (s *faultyStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if s.foreign != nil {
		return s.foreign, nil
	}
	return s.Store.CreateConversation(ctx, conv)
}

func (s *faultyStore) ListConversationsForParticipant(ctx context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.Lock()
	if s.listConversationFails > 0 {
		s.listConversationFails--
		s.mu.Unlock()
		return nil, errBackendDown
	}
	s.mu.Unlock()
	return s.Store.ListConversationsForParticipant(ctx, userID)
}

func (s *faultyStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.Lock()
	gate := s.listMessagesGate
	if s.listMessageFails > 0 {
		s.listMessageFails--
		s.mu.Unlock()
		return nil, errBackendDown
	}
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.Store.ListMessages(ctx, conversationID)
}

func (s *faultyStore) AppendMessage(ctx context.Context, input models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	s.appendCalls++
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.AppendMessage(ctx, input)
}

func (s *faultyStore) MarkRead(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	s.markReadCalls++
	if s.markReadFails > 0 {
		s.markReadFails--
		s.mu.Unlock()
		return 0, errBackendDown
	}
	s.mu.Unlock()
	return s.Store.MarkRead(ctx, ids)
}

// failingChannel refuses subscriptions.
type failingChannel struct{}

func (failingChannel) Subscribe(string, events.Filter, events.EventHandler) error {
	return errBackendDown
}

func (failingChannel) Unsubscribe(string) error { return nil }
