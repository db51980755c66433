package messaging

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestLoad_MarksFetchedUnreadMessagesRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv := f.direct(t, "alice", "bob")
	f.send(t, conv, "bob", "one")
	f.send(t, conv, "alice", "two")
	f.send(t, conv, "bob", "three")
	require.Equal(t, 2, f.unread(t, conv, "alice"))
	require.Equal(t, 1, f.unread(t, conv, "bob"))

	feed := f.open(t, ConversationTarget(conv.ID), "alice")

	history := feed.History()
	require.Len(t, history, 3)
	require.Equal(t, []string{"one", "two", "three"}, []string{history[0].Content, history[1].Content, history[2].Content})
	require.Zero(t, feed.UnreadCount())
	require.Zero(t, f.unread(t, conv, "alice"))
	require.Equal(t, 1, f.unread(t, conv, "bob"), "alice's own message stays unread for bob")

	entries, err := f.svc.GetInbox(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, entryFor(entries, conv.ID).UnreadCount)

	again, err := feed.Load(ctx)
	require.NoError(t, err)
	require.Len(t, again, 3)
	require.Zero(t, f.unread(t, conv, "alice"))
}

func TestOpenConversation_AccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	_, err := f.svc.OpenConversation(ctx, ConversationTarget(conv.ID), "carol")
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.OpenConversation(ctx, ConversationTarget("missing"), "alice")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.OpenConversation(ctx, PeerTarget("alice"), "alice")
	require.ErrorIs(t, err, ErrAccessDenied)

	_, err = f.svc.OpenConversation(ctx, PeerTarget("ghost"), "alice")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.OpenConversation(ctx, Target{}, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.OpenConversation(ctx, Target{ConversationID: conv.ID, PeerID: "bob"}, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.Zero(t, f.hub.SubscriberCount(), "failed opens must not leak subscriptions")
}

func TestSend_EmptyMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	feed := f.open(t, ConversationTarget(conv.ID), "alice")

	_, err := feed.Send(ctx, "", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	_, err = feed.Send(ctx, "  \t\n", nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, f.notifier.all())

	msg, err := feed.Send(ctx, "", &models.Attachment{URL: "https://files.example/cv.pdf", Name: "cv.pdf", Type: "application/pdf"})
	require.NoError(t, err)
	require.Equal(t, models.MessageKindAttachment, msg.Kind())
	require.False(t, msg.IsRead)

	notices := f.notifier.all()
	require.Len(t, notices, 1)
	require.Equal(t, models.Notice{
		RecipientID:       "bob",
		ConversationID:    conv.ID,
		MessageKind:       models.MessageKindAttachment,
		SenderDisplayName: "Alice",
	}, notices[0])
}

func TestLiveDelivery_DedupesEchoAndRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	alice := f.open(t, ConversationTarget(conv.ID), "alice")
	bob := f.open(t, ConversationTarget(conv.ID), "bob")

	var bobCalls, aliceCalls int32
	bob.OnMessage(func(*models.Message) { atomic.AddInt32(&bobCalls, 1) })
	alice.OnMessage(func(*models.Message) { atomic.AddInt32(&aliceCalls, 1) })

	m1, err := alice.Send(ctx, "hello", nil)
	require.NoError(t, err)

	require.Len(t, alice.History(), 1, "echo must not render twice")
	require.Len(t, bob.History(), 1)
	require.EqualValues(t, 1, atomic.LoadInt32(&bobCalls))
	require.EqualValues(t, 1, atomic.LoadInt32(&aliceCalls))

	require.True(t, bob.History()[0].IsRead, "active recipient marks on receipt")
	require.Zero(t, f.unread(t, conv, "bob"))

	// Channel redelivery plus a late history fetch collapse to one item.
	f.hub.Publish(ctx, &models.Event{
		Type:           models.EventTypeMessageAppended,
		ConversationID: conv.ID,
		Participants:   conv.Participants(),
		Message:        m1,
	})
	_, err = bob.Load(ctx)
	require.NoError(t, err)
	require.Len(t, bob.History(), 1)
	require.EqualValues(t, 1, atomic.LoadInt32(&bobCalls))

	require.True(t, alice.History()[0].IsRead, "sender sees the read flip")
}

func TestTwoTabsConvergeOnUnreadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	tab1 := f.open(t, ConversationTarget(conv.ID), "bob")
	tab2 := f.open(t, ConversationTarget(conv.ID), "bob")

	f.send(t, conv, "alice", "ping")
	f.send(t, conv, "alice", "pong")

	require.Zero(t, tab1.UnreadCount())
	require.Zero(t, tab2.UnreadCount())
	require.Len(t, tab1.History(), 2)
	require.Len(t, tab2.History(), 2)
	require.Zero(t, f.unread(t, conv, "bob"))

	entries, err := f.svc.GetInbox(ctx, "bob")
	require.NoError(t, err)
	require.Zero(t, entryFor(entries, conv.ID).UnreadCount)
}

func TestHiddenHandleDefersReadUntilVisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	bob := f.open(t, ConversationTarget(conv.ID), "bob")
	bob.SetVisible(ctx, false)

	f.send(t, conv, "alice", "while you were away")
	require.Len(t, bob.History(), 1)
	require.Equal(t, 1, bob.UnreadCount())
	require.Equal(t, 1, f.unread(t, conv, "bob"))

	bob.SetVisible(ctx, true)
	require.Zero(t, bob.UnreadCount())
	require.Zero(t, f.unread(t, conv, "bob"))
}

func TestMarkReadOnReceiptDisabled(t *testing.T) {
	f := newFixture(t, WithMarkReadOnReceipt(false))
	conv := f.direct(t, "alice", "bob")

	bob := f.open(t, ConversationTarget(conv.ID), "bob")
	f.send(t, conv, "alice", "hi")
	require.Equal(t, 1, bob.UnreadCount())
	require.Equal(t, 1, f.unread(t, conv, "bob"))
}

func TestNonActiveConversationStaysUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.direct(t, "alice", "bob")
	other := f.direct(t, "carol", "bob")

	f.open(t, ConversationTarget(open.ID), "bob")
	f.send(t, other, "carol", "psst")

	require.Equal(t, 1, f.unread(t, other, "bob"))
	entries, err := f.svc.GetInbox(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, 1, entryFor(entries, other.ID).UnreadCount)
}

func TestPendingPeerHandleCreatesOnFirstSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.open(t, PeerTarget("bob"), "alice")
	require.True(t, alice.Pending())
	require.Nil(t, alice.Conversation())
	require.Empty(t, alice.History())

	convs, err := f.store.ListConversationsForParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, convs, "opening must not create")

	bob := f.open(t, PeerTarget("alice"), "bob")
	require.True(t, bob.Pending())

	_, err = alice.Send(ctx, "first contact", nil)
	require.NoError(t, err)
	require.False(t, alice.Pending())
	require.Len(t, alice.History(), 1)

	require.False(t, bob.Pending(), "peer handle adopts the new conversation")
	require.Equal(t, alice.Conversation().ID, bob.Conversation().ID)
	require.Len(t, bob.History(), 1)

	_, err = bob.Send(ctx, "welcome", nil)
	require.NoError(t, err)
	require.Len(t, alice.History(), 2)

	require.Equal(t, 2, f.hub.SubscriberCount(), "one subscription per handle")
}

func TestSendFailureKeepsDraftAndIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	faulty := &faultyStore{Store: f.store, appendErr: errBackendDown}
	svc, err := NewService(faulty, f.hub, WithNotifier(f.notifier), WithReadRetryBackoff(0))
	require.NoError(t, err)

	feed, err := svc.OpenConversation(ctx, ConversationTarget(conv.ID), "alice")
	require.NoError(t, err)
	defer feed.Close()

	attachment := &models.Attachment{URL: "https://files.example/plan.pdf"}
	_, err = feed.Send(ctx, "my draft", attachment)
	require.ErrorIs(t, err, ErrTransientStore)
	require.Equal(t, 1, faulty.appendCalls)
	require.Empty(t, f.notifier.all())

	draft, draftAttachment := feed.Draft()
	require.Equal(t, "my draft", draft)
	require.Same(t, attachment, draftAttachment)

	faulty.mu.Lock()
	faulty.appendErr = nil
	faulty.mu.Unlock()

	_, err = feed.Send(ctx, draft, draftAttachment)
	require.NoError(t, err)
	draft, draftAttachment = feed.Draft()
	require.Empty(t, draft)
	require.Nil(t, draftAttachment)
}

func TestMarkReadFailureRetriedWithNextBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	f.send(t, conv, "alice", "one")

	faulty := &faultyStore{Store: f.store, markReadFails: 2}
	svc, err := NewService(faulty, f.hub, WithReadRetryBackoff(0))
	require.NoError(t, err)

	feed, err := svc.OpenConversation(ctx, ConversationTarget(conv.ID), "bob")
	require.NoError(t, err, "a failed mark-read does not fail the open")
	defer feed.Close()
	require.Equal(t, 2, faulty.markReadCalls, "mark read is retried once")
	require.Equal(t, 1, f.unread(t, conv, "bob"))

	f.send(t, conv, "alice", "two")
	require.Zero(t, f.unread(t, conv, "bob"), "earlier batch is carried with the next one")
	require.Zero(t, feed.UnreadCount())
}

func TestLateHistoryDiscardedAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")
	f.send(t, conv, "alice", "hello")

	gate := make(chan struct{})
	faulty := &faultyStore{Store: f.store, listMessagesGate: gate}
	svc, err := NewService(faulty, f.hub, WithReadRetryBackoff(0))
	require.NoError(t, err)

	feed := newFeed(svc, conv, "", "bob", "Bob")

	var wg sync.WaitGroup
	var loadErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, loadErr = feed.Load(ctx)
	}()

	feed.Close()
	close(gate)
	wg.Wait()

	require.ErrorIs(t, loadErr, ErrHandleClosed)
	require.Empty(t, feed.History())
	require.Equal(t, 1, f.unread(t, conv, "bob"), "abandoned load must not mark read")
}

func TestSubscribeFailureDegradesToReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	svc, err := NewService(f.store, failingChannel{}, WithReadRetryBackoff(0))
	require.NoError(t, err)

	feed, err := svc.OpenConversation(ctx, ConversationTarget(conv.ID), "bob")
	require.NoError(t, err)
	defer feed.Close()
	require.False(t, feed.Live())

	f.send(t, conv, "alice", "missed live")
	require.Empty(t, feed.History())

	reopened, err := svc.OpenConversation(ctx, ConversationTarget(conv.ID), "bob")
	require.NoError(t, err)
	defer reopened.Close()
	require.Len(t, reopened.History(), 1)
}

func TestStreamDeliversNewMessages(t *testing.T) {
	f := newFixture(t)
	conv := f.direct(t, "alice", "bob")
	feed := f.open(t, ConversationTarget(conv.ID), "bob")

	stream, cancel := feed.Stream(4)
	f.send(t, conv, "alice", "streamed")

	select {
	case msg := <-stream:
		require.Equal(t, "streamed", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for streamed message")
	}

	cancel()
	_, ok := <-stream
	require.False(t, ok)
	cancel()
}

func TestCloseReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.direct(t, "alice", "bob")

	feed, err := f.svc.OpenConversation(ctx, ConversationTarget(conv.ID), "bob")
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.SubscriberCount())

	feed.Close()
	feed.Close()
	require.Zero(t, f.hub.SubscriberCount())

	_, err = feed.Send(ctx, "after close", nil)
	require.ErrorIs(t, err, ErrHandleClosed)
	_, err = feed.Load(ctx)
	require.ErrorIs(t, err, ErrHandleClosed)

	f.send(t, conv, "alice", "nobody listening")
	require.Empty(t, feed.History())
}
