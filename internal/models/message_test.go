package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewMessageValidate_EmptyMessage(t *testing.T) {
	err := NewMessage{ConversationID: "c1", SenderID: "a", Content: "   "}.Validate()
	require.ErrorIs(t, err, ErrEmptyMessage)

	err = NewMessage{ConversationID: "c1", SenderID: "a", Content: "", Attachment: &Attachment{URL: "https://files/x.pdf"}}.Validate()
	require.NoError(t, err)

	err = NewMessage{ConversationID: "c1", SenderID: "a", Content: "hello"}.Validate()
	require.NoError(t, err)
}

func TestNewMessageValidate_AttachmentNeedsURL(t *testing.T) {
	err := NewMessage{ConversationID: "c1", SenderID: "a", Attachment: &Attachment{Name: "deck.pdf"}}.Validate()
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrEmptyMessage))
}

func TestCountUnreadIgnoresOwnMessages(t *testing.T) {
	msgs := []*Message{
		{ID: "1", SenderID: "a"},
		{ID: "2", SenderID: "b"},
		{ID: "3", SenderID: "b", IsRead: true},
		{ID: "4", SenderID: "b"},
	}
	require.Equal(t, 2, CountUnread(msgs, "a"))
	require.Equal(t, 1, CountUnread(msgs, "b"))
}

func TestSortMessagesBreaksTimestampTiesBySeq(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := []*Message{
		{ID: "z", CreatedAt: ts, Seq: 2},
		{ID: "y", CreatedAt: ts.Add(-time.Second), Seq: 1},
		{ID: "a", CreatedAt: ts, Seq: 3},
	}
	SortMessages(msgs)
	require.Equal(t, []string{"y", "z", "a"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestRankInbox(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	entries := []InboxEntry{
		{Conversation: Conversation{ID: "empty-b"}},
		{Conversation: Conversation{ID: "old"}, LastMessageAt: &older},
		{Conversation: Conversation{ID: "empty-a"}},
		{Conversation: Conversation{ID: "new-b"}, LastMessageAt: &newer},
		{Conversation: Conversation{ID: "new-a"}, LastMessageAt: &newer},
	}
	RankInbox(entries)

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Conversation.ID)
	}
	require.Equal(t, []string{"new-a", "new-b", "old", "empty-a", "empty-b"}, ids)
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	require.Equal(t, PairKey("bob", "alice"), PairKey("alice", "bob"))
	require.Equal(t, DirectKey("bob", "alice"), DirectKey("alice", "bob"))
}

func TestPairKeyDistinguishesSeparatorInIDs(t *testing.T) {
	require.NotEqual(t, PairKey("a:b", "c"), PairKey("a", "b:c"))
	require.NotEqual(t, PairKey("a", "b:c"), PairKey("a:b:c", "d"))
	require.Equal(t, "1:a:b:c", PairKey("b:c", "a"))
}

func TestConversationSamePair(t *testing.T) {
	conv := &Conversation{Kind: ConversationKindDirect, ParticipantA: "a:b", ParticipantB: "c"}
	require.True(t, conv.SamePair("c", "a:b"))
	require.False(t, conv.SamePair("a", "b:c"))

	conv.Kind = ConversationKindApplication
	require.False(t, conv.SamePair("a:b", "c"))
}

func TestApplicationRole(t *testing.T) {
	app := &Application{ID: "app42", InitiatorID: "i", ApplicantID: "j"}
	require.Equal(t, RoleInitiator, app.Role("i"))
	require.Equal(t, RoleApplicant, app.Role("j"))
	require.Equal(t, ParticipantRole(""), app.Role("x"))
}
