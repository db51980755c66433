// Package events is the realtime message channel: an in-process hub that
// broadcasts conversation events to filtered subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
)

// EventHandler is invoked for each event matching a subscription.
type EventHandler func(event *models.Event)

// Filter defines criteria for matching events.
type Filter struct {
	// EventTypes filters by event type (nil = all types).
	EventTypes []models.EventType

	// ConversationID restricts delivery to one conversation (empty = all).
	ConversationID string

	// ParticipantID restricts delivery to conversations the user takes
	// part in (empty = all).
	ParticipantID string
}

// ConversationFilter matches message traffic for a single conversation.
func ConversationFilter(conversationID string) Filter {
	return Filter{
		EventTypes:     []models.EventType{models.EventTypeMessageAppended, models.EventTypeMessagesRead},
		ConversationID: conversationID,
	}
}

// InboxFilter matches every change that can affect a user's inbox.
func InboxFilter(userID string) Filter {
	return Filter{ParticipantID: userID}
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event *models.Event) bool {
	if event == nil {
		return false
	}

	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.ConversationID != "" && event.ConversationID != f.ConversationID {
		return false
	}

	if f.ParticipantID != "" && !event.Involves(f.ParticipantID) {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler EventHandler
}

// Publisher is the channel contract consumed by the messaging core.
type Publisher interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event *models.Event)

	// Subscribe registers a handler to receive events matching the filter.
	Subscribe(id string, filter Filter, handler EventHandler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// Hub implements Publisher with in-process fan-out. Delivery is
// synchronous and per-conversation ordered: events published from one
// goroutine reach each handler in publish order.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	now           func() time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHub creates a new in-process hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscriptions: make(map[string]*subscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish sends an event to all matching subscribers.
func (h *Hub) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}

	h.mu.RLock()
	var handlers []EventHandler
	for _, sub := range h.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	h.mu.RUnlock()

	// Handlers may call back into the store, which publishes again; never
	// hold the lock while invoking them.
	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (h *Hub) Subscribe(id string, filter Filter, handler EventHandler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	h.subscriptions[id] = &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
	}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(h.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close removes all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscriptions = make(map[string]*subscription)
}

// Errors for hub operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from hub operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
