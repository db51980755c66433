package models

import "time"

// EventType categorizes channel events.
type EventType string

const (
	// EventTypeMessageAppended fires after a message append commits.
	EventTypeMessageAppended EventType = "message.appended"

	// EventTypeMessagesRead fires after a mark-read batch changes at least
	// one message.
	EventTypeMessagesRead EventType = "messages.read"

	// EventTypeConversationCreated fires when a new conversation record is
	// materialized.
	EventTypeConversationCreated EventType = "conversation.created"
)

// Event is a change notification broadcast on the message channel.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Type is the kind of change.
	Type EventType `json:"type"`

	// ConversationID scopes the event to one conversation.
	ConversationID string `json:"conversation_id"`

	// Participants are both parties of the conversation, used for
	// participant-scoped (inbox) subscriptions.
	Participants []string `json:"participants,omitempty"`

	// Message is set for message.appended.
	Message *Message `json:"message,omitempty"`

	// MessageIDs lists the messages changed by messages.read.
	MessageIDs []string `json:"message_ids,omitempty"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
}

// Involves reports whether userID is a participant of the event's conversation.
func (e *Event) Involves(userID string) bool {
	if e == nil {
		return false
	}
	for _, p := range e.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
