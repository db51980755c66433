package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestListConversations_MergesKindsWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.apps.Create(ctx, &models.Application{
		ID: "app7", StartupID: "s1", StartupName: "Rocket", InitiatorID: "alice", ApplicantID: "jay",
	}))
	res, err := f.svc.Aggregator().ResolveApplicationConversation(ctx, "app7", "alice")
	require.NoError(t, err)
	require.Equal(t, ResolutionCreated, res.State)

	withBob := f.direct(t, "alice", "bob")
	withCarol := f.direct(t, "carol", "alice")
	again := f.direct(t, "bob", "alice")
	require.Equal(t, withBob.ID, again.ID)

	f.send(t, withBob, "bob", "hey alice")
	f.send(t, withBob, "bob", "are you there?")
	f.send(t, res.Conversation, "jay", "excited to join")
	f.send(t, withBob, "alice", "yes!")

	entries, err := f.svc.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	ids := make(map[string]bool)
	for _, e := range entries {
		require.False(t, ids[e.Conversation.ID], "duplicate %s", e.Conversation.ID)
		ids[e.Conversation.ID] = true
		require.NotEqual(t, "alice", e.OtherParticipant)
	}

	require.Equal(t, withBob.ID, entries[0].Conversation.ID)
	require.Equal(t, res.Conversation.ID, entries[1].Conversation.ID)
	require.Equal(t, withCarol.ID, entries[2].Conversation.ID)

	bobEntry := entries[0]
	require.Equal(t, "Bob", bobEntry.OtherDisplayName)
	require.Equal(t, "yes!", bobEntry.LastMessagePreview)
	require.Equal(t, 2, bobEntry.UnreadCount)
	require.Equal(t, f.unread(t, withBob, "alice"), bobEntry.UnreadCount)

	require.Equal(t, models.ConversationKindApplication, entries[1].Conversation.Kind)
	require.Equal(t, "Rocket", entries[1].Conversation.Anchor.StartupName)
	require.Equal(t, 1, entries[1].UnreadCount)

	require.Nil(t, entries[2].LastMessageAt)
	require.Zero(t, entries[2].UnreadCount)

	bobView, err := f.svc.GetInbox(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	require.Equal(t, "alice", bobView[0].OtherParticipant)
	require.Zero(t, bobView[0].UnreadCount, "bob's unread count only counts alice's messages")
	require.Equal(t, 1, f.unread(t, withBob, "bob"))
}

func TestListConversations_EmptyInbox(t *testing.T) {
	f := newFixture(t)

	entries, err := f.svc.GetInbox(context.Background(), "carol")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListConversations_AttachmentPreviewAndRedaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.direct(t, "alice", "bob")
	f.send(t, conv, "bob", "mail me at bob@example.com")

	entries, err := f.svc.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "mail me at [REDACTED]", entries[0].LastMessagePreview)

	_, err = f.store.AppendMessage(ctx, models.NewMessage{
		ConversationID: conv.ID,
		SenderID:       "bob",
		Attachment:     &models.Attachment{URL: "https://files.example/deck.pdf", Name: "deck.pdf"},
	})
	require.NoError(t, err)

	entries, err = f.svc.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "[attachment] deck.pdf", entries[0].LastMessagePreview)
}

func TestListConversations_RetriesTransientReadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.direct(t, "alice", "bob")

	faulty := &faultyStore{Store: f.store, listConversationFails: 1, listMessageFails: 1}
	svc, err := NewService(faulty, f.hub, WithReadRetryBackoff(0))
	require.NoError(t, err)

	entries, err := svc.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	faulty.listConversationFails = 2
	_, err = svc.GetInbox(ctx, "alice")
	require.ErrorIs(t, err, ErrTransientStore)
	require.ErrorIs(t, err, errBackendDown)
}

func TestResolveApplicationConversation_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agg := f.svc.Aggregator()

	require.NoError(t, f.apps.Create(ctx, &models.Application{
		ID: "app42", StartupID: "s42", StartupName: "Orbit", InitiatorID: "ivy", ApplicantID: "jay",
		Status: models.ApplicationStatusAccepted,
	}))

	res, err := agg.ResolveApplicationConversation(ctx, "app42", "jay")
	require.NoError(t, err)
	require.Equal(t, ResolutionNotStarted, res.State)
	require.Nil(t, res.Conversation)

	_, err = f.store.FindConversation(ctx, models.ApplicationKey("app42"))
	require.ErrorIs(t, err, ErrNotFound, "applicant must not create the conversation")

	_, err = f.svc.OpenConversation(ctx, ApplicationTarget("app42"), "jay")
	require.ErrorIs(t, err, ErrNotStarted)

	res, err = agg.ResolveApplicationConversation(ctx, "app42", "ivy")
	require.NoError(t, err)
	require.Equal(t, ResolutionCreated, res.State)
	c1 := res.Conversation
	require.Equal(t, "ivy", c1.ParticipantA)
	require.Equal(t, "jay", c1.ParticipantB)
	require.Equal(t, "app42", c1.ApplicationID())

	res, err = agg.ResolveApplicationConversation(ctx, "app42", "jay")
	require.NoError(t, err)
	require.Equal(t, ResolutionFound, res.State)
	require.Equal(t, c1.ID, res.Conversation.ID)

	res, err = agg.ResolveApplicationConversation(ctx, "app42", "ivy")
	require.NoError(t, err)
	require.Equal(t, ResolutionFound, res.State)
	require.Equal(t, c1.ID, res.Conversation.ID)

	_, err = agg.ResolveApplicationConversation(ctx, "app42", "carol")
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = agg.ResolveApplicationConversation(ctx, "nope", "ivy")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveApplicationConversation_ClosedApplicationNotStarted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.apps.Create(ctx, &models.Application{
		ID: "app9", StartupID: "s9", InitiatorID: "ivy", ApplicantID: "jay",
		Status: models.ApplicationStatusRejected,
	}))

	res, err := f.svc.Aggregator().ResolveApplicationConversation(ctx, "app9", "ivy")
	require.NoError(t, err)
	require.Equal(t, ResolutionNotStarted, res.State)

	_, err = f.store.FindConversation(ctx, models.ApplicationKey("app9"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveDirectConversation_ConcurrentPeersConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agg := f.svc.Aggregator()

	const rounds = 10
	ids := make([]string, 2*rounds)
	errs := make([]error, 2*rounds)

	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			conv, err := agg.ResolveDirectConversation(ctx, "bob", "alice")
			errs[2*i] = err
			if conv != nil {
				ids[2*i] = conv.ID
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			conv, err := agg.ResolveDirectConversation(ctx, "alice", "bob")
			errs[2*i+1] = err
			if conv != nil {
				ids[2*i+1] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}

	convs, err := f.store.ListConversationsForParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestResolveDirectConversation_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agg := f.svc.Aggregator()

	tests := []struct {
		name   string
		peer   string
		viewer string
		want   error
	}{
		{name: "self", peer: "alice", viewer: "alice", want: ErrAccessDenied},
		{name: "unknown peer", peer: "ghost", viewer: "alice", want: ErrNotFound},
		{name: "empty peer", peer: "", viewer: "alice", want: ErrNotFound},
		{name: "no viewer", peer: "bob", viewer: "", want: ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.ResolveDirectConversation(ctx, tt.peer, tt.viewer)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAppendOrderIndependentOfOtherConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1 := f.direct(t, "alice", "bob")
	c2 := f.direct(t, "carol", "bob")

	const n = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := f.store.AppendMessage(ctx, models.NewMessage{ConversationID: c1.ID, SenderID: "alice", Content: fmt.Sprintf("m%d", i)})
			if err != nil {
				t.Errorf("append c1: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := f.store.AppendMessage(ctx, models.NewMessage{ConversationID: c2.ID, SenderID: "carol", Content: fmt.Sprintf("x%d", i)})
			if err != nil {
				t.Errorf("append c2: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	msgs, err := f.store.ListMessages(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, msg := range msgs {
		require.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
	}
}

func TestClassify(t *testing.T) {
	require.Nil(t, classify(nil))
	require.Equal(t, ErrNotFound, classify(ErrNotFound))
	require.ErrorIs(t, classify(context.Canceled), context.Canceled)
	require.False(t, errors.Is(classify(context.Canceled), ErrTransientStore))

	err := classify(errBackendDown)
	require.ErrorIs(t, err, ErrTransientStore)
	require.ErrorIs(t, err, errBackendDown)
}

func TestResolveDirectConversation_SeparatorInIDsKeepsPairsApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a:b", "c", "a", "b:c"} {
		require.NoError(t, f.profiles.Upsert(ctx, &models.Profile{ID: id}))
	}

	private := f.direct(t, "c", "a:b")
	f.send(t, private, "c", "private note for a:b")

	feed := f.open(t, PeerTarget("b:c"), "a")
	require.True(t, feed.Pending())
	require.Empty(t, feed.History())
	require.Equal(t, 1, f.unread(t, private, "a:b"))

	conv, err := f.svc.Aggregator().ResolveDirectConversation(ctx, "b:c", "a")
	require.NoError(t, err)
	require.NotEqual(t, private.ID, conv.ID)
	require.True(t, conv.SamePair("a", "b:c"))

	entries, err := f.svc.GetInbox(ctx, "a:b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, private.ID, entries[0].Conversation.ID)
}

func TestResolveDirectConversation_RejectsRecordForAnotherPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := f.direct(t, "bob", "carol")
	f.send(t, other, "carol", "not for alice")

	faulty := &faultyStore{Store: f.store, foreign: other}
	svc, err := NewService(faulty, f.hub, WithDirectory(f.profiles), WithReadRetryBackoff(0))
	require.NoError(t, err)

	_, err = svc.Aggregator().ResolveDirectConversation(ctx, "bob", "alice")
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.OpenConversation(ctx, PeerTarget("bob"), "alice")
	require.ErrorIs(t, err, ErrAccessDenied)
	require.Equal(t, 1, f.unread(t, other, "bob"))
	require.Zero(t, f.hub.SubscriberCount())
}
