package models

import "time"

// Notice is the call-out payload emitted to the fan-out collaborator after a
// successful send.
type Notice struct {
	RecipientID       string      `json:"recipient_id"`
	ConversationID    string      `json:"conversation_id"`
	MessageKind       MessageKind `json:"message_kind"`
	SenderDisplayName string      `json:"sender_display_name"`
}

// Notification is the persisted in-app notice for a recipient.
type Notification struct {
	ID             string      `json:"id"`
	RecipientID    string      `json:"recipient_id"`
	ConversationID string      `json:"conversation_id"`
	MessageKind    MessageKind `json:"message_kind"`
	Title          string      `json:"title"`
	IsRead         bool        `json:"is_read"`
	CreatedAt      time.Time   `json:"created_at"`
}
