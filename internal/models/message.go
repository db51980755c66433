package models

import (
	"sort"
	"strings"
	"time"
)

// MessageKind classifies a message for notification purposes.
type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindAttachment MessageKind = "attachment"
)

// Attachment is an optional single file reference carried by a message.
// Upload and storage happen elsewhere; only the reference is kept.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Message is an immutable entry in a conversation.
type Message struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`

	// ConversationID references the owning conversation.
	ConversationID string `json:"conversation_id"`

	// SenderID is the authoring participant.
	SenderID string `json:"sender_id"`

	// Content may be empty only when Attachment is set.
	Content string `json:"content"`

	// Attachment is the optional file reference.
	Attachment *Attachment `json:"attachment,omitempty"`

	// CreatedAt is store-assigned and monotonic within a conversation.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the store-assigned position within the conversation. It breaks
	// ties when two messages share a timestamp.
	Seq int64 `json:"seq"`

	// IsRead is false at creation and flips to true exactly once.
	IsRead bool `json:"is_read"`
}

// Kind returns attachment for messages carrying a file, text otherwise.
func (m *Message) Kind() MessageKind {
	if m != nil && m.Attachment != nil {
		return MessageKindAttachment
	}
	return MessageKindText
}

// UnreadFor reports whether the message counts as unread for viewer.
// A message is never unread for its own sender.
func (m *Message) UnreadFor(viewer string) bool {
	return m != nil && m.SenderID != viewer && !m.IsRead
}

// Before orders messages by (CreatedAt, Seq).
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	if m.Seq != other.Seq {
		return m.Seq < other.Seq
	}
	return m.ID < other.ID
}

// SortMessages orders messages in place by creation.
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Before(messages[j])
	})
}

// CountUnread counts messages unread for viewer.
func CountUnread(messages []*Message, viewer string) int {
	count := 0
	for _, msg := range messages {
		if msg.UnreadFor(viewer) {
			count++
		}
	}
	return count
}

// NewMessage carries the fields a caller supplies when appending.
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
	Attachment     *Attachment
}

// Validate enforces the content-or-attachment rule. Blank content with no
// attachment fails with ErrEmptyMessage.
func (n NewMessage) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(n.ConversationID) == "" {
		validation.AddMessage("conversation_id", "is required")
	}
	if strings.TrimSpace(n.SenderID) == "" {
		validation.AddMessage("sender_id", "is required")
	}
	if n.Attachment != nil && strings.TrimSpace(n.Attachment.URL) == "" {
		validation.AddMessage("attachment.url", "is required when an attachment is present")
	}
	if err := validation.Err(); err != nil {
		return err
	}
	if IsBlank(n.Content) && n.Attachment == nil {
		return ErrEmptyMessage
	}
	return nil
}

// IsBlank reports whether content has no visible characters.
func IsBlank(content string) bool {
	return strings.TrimSpace(content) == ""
}
