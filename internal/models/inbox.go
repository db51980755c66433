package models

import (
	"sort"
	"time"
)

// InboxEntry is a derived, never-persisted summary row for one conversation
// as seen by a viewer.
type InboxEntry struct {
	Conversation Conversation `json:"conversation"`

	// OtherParticipant is the counterpart's user id.
	OtherParticipant string `json:"other_participant"`

	// OtherDisplayName is the counterpart's resolved display name.
	OtherDisplayName string `json:"other_display_name"`

	// LastMessagePreview is empty when the conversation has no messages.
	LastMessagePreview string `json:"last_message_preview"`

	// LastMessageAt is nil when the conversation has no messages.
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	// UnreadCount counts messages from the other participant not yet read.
	UnreadCount int `json:"unread_count"`
}

// RankInbox sorts entries by LastMessageAt descending. Conversations without
// messages sort last; ties break on conversation id ascending.
func RankInbox(entries []InboxEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && b.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		return a.Conversation.ID < b.Conversation.ID
	})
}

// TotalUnread sums unread counts across entries.
func TotalUnread(entries []InboxEntry) int {
	total := 0
	for _, entry := range entries {
		total += entry.UnreadCount
	}
	return total
}
