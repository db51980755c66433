package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cobuilders/inbox/internal/logging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/rs/zerolog"
)

const (
	defaultAggregateConcurrency = 8
	defaultInboxDebounce        = 100 * time.Millisecond
)

// Target selects the conversation to open. Exactly one field is set.
type Target struct {
	ConversationID string
	ApplicationID  string
	PeerID         string
}

// ConversationTarget opens a conversation by id.
func ConversationTarget(id string) Target { return Target{ConversationID: id} }

// ApplicationTarget opens the conversation anchored to an application.
func ApplicationTarget(id string) Target { return Target{ApplicationID: id} }

// PeerTarget opens the direct conversation with a peer.
func PeerTarget(id string) Target { return Target{PeerID: id} }

func (t Target) validate() error {
	set := 0
	for _, v := range []string{t.ConversationID, t.ApplicationID, t.PeerID} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of conversation, application or peer is required: %w", ErrNotFound)
	}
	return nil
}

// Service is the entry point the surrounding application talks to.
type Service struct {
	store        Store
	channel      Channel
	notifier     Notifier
	directory    Directory
	applications Applications
	aggregator   *Aggregator

	retryBackoff      time.Duration
	markReadOnReceipt bool
	inboxDebounce     time.Duration
	logger            zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the fan-out called after each successful send.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithDirectory sets the profile lookup used for display names and peer checks.
func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

// WithApplications sets the application lookup.
func WithApplications(a Applications) Option {
	return func(s *Service) { s.applications = a }
}

// WithReadRetryBackoff sets the pause before the single read retry.
func WithReadRetryBackoff(d time.Duration) Option {
	return func(s *Service) { s.retryBackoff = d }
}

// WithMarkReadOnReceipt controls whether visible handles mark live inbound
// messages read.
func WithMarkReadOnReceipt(enabled bool) Option {
	return func(s *Service) { s.markReadOnReceipt = enabled }
}

// WithInboxDebounce sets how long inbox watchers coalesce change events.
// Zero refreshes synchronously on every event.
func WithInboxDebounce(d time.Duration) Option {
	return func(s *Service) { s.inboxDebounce = d }
}

// WithPreviewLength sets the inbox preview length in runes.
func WithPreviewLength(n int) Option {
	return func(s *Service) { s.aggregator.previewLength = n }
}

// WithAggregateConcurrency bounds parallel per-conversation reads.
func WithAggregateConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.aggregator.concurrency = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the core over a store and its channel.
func NewService(store Store, channel Channel, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if channel == nil {
		return nil, errors.New("channel is required")
	}

	s := &Service{
		store:             store,
		channel:           channel,
		notifier:          nopNotifier{},
		retryBackoff:      defaultReadRetryBackoff,
		markReadOnReceipt: true,
		inboxDebounce:     defaultInboxDebounce,
		logger:            logging.Component("messaging"),
		aggregator: &Aggregator{
			concurrency:   defaultAggregateConcurrency,
			previewLength: logging.DefaultPreviewLength,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.aggregator.store = s.store
	s.aggregator.directory = s.directory
	s.aggregator.applications = s.applications
	s.aggregator.retryBackoff = s.retryBackoff
	s.aggregator.logger = s.logger
	return s, nil
}

// Aggregator exposes inbox aggregation and conversation resolution.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// GetInbox returns the viewer's ranked inbox.
func (s *Service) GetInbox(ctx context.Context, viewer string) ([]models.InboxEntry, error) {
	return s.aggregator.ListConversations(ctx, viewer)
}

// OpenConversation resolves target for viewer and returns a live, loaded
// handle. An applicant opening an application thread the initiator has not
// started gets ErrNotStarted. A peer target with no conversation yet yields
// a pending handle.
//
// If the channel subscription fails the handle is still returned, without
// live updates; reopening it picks up new messages.
func (s *Service) OpenConversation(ctx context.Context, target Target, viewer string) (*Feed, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(viewer) == "" {
		return nil, fmt.Errorf("viewer is required: %w", ErrAccessDenied)
	}

	var conv *models.Conversation
	switch {
	case target.ConversationID != "":
		found, err := retryOnce(ctx, s.retryBackoff, s.logger, "get_conversation", func() (*models.Conversation, error) {
			return s.store.GetConversation(ctx, target.ConversationID)
		})
		if err != nil {
			return nil, fmt.Errorf("open conversation %s: %w", target.ConversationID, err)
		}
		if !found.HasParticipant(viewer) {
			return nil, fmt.Errorf("open conversation %s: %w", target.ConversationID, ErrAccessDenied)
		}
		conv = found

	case target.ApplicationID != "":
		res, err := s.aggregator.ResolveApplicationConversation(ctx, target.ApplicationID, viewer)
		if err != nil {
			return nil, err
		}
		if res.State == ResolutionNotStarted {
			return nil, fmt.Errorf("application %s: %w", target.ApplicationID, ErrNotStarted)
		}
		conv = res.Conversation

	default:
		found, err := s.aggregator.findDirectConversation(ctx, target.PeerID, viewer)
		if err != nil {
			return nil, err
		}
		conv = found
	}

	feed := newFeed(s, conv, target.PeerID, viewer, s.aggregator.displayName(ctx, viewer))
	if err := feed.Subscribe(); err != nil {
		feed.logger.Warn().Err(err).Msg("live updates unavailable")
	}
	if _, err := feed.Load(ctx); err != nil {
		feed.Close()
		return nil, err
	}
	return feed, nil
}

// NewSession starts navigation state for one viewer.
func (s *Service) NewSession(viewer string) *Session {
	return &Session{svc: s, viewer: viewer}
}
