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
	"golang.org/x/sync/errgroup"
)

// ResolutionState describes how an application conversation was resolved.
type ResolutionState int

const (
	// ResolutionFound means the conversation already existed.
	ResolutionFound ResolutionState = iota
	// ResolutionCreated means this call created it.
	ResolutionCreated
	// ResolutionNotStarted means the initiator has not opened the thread yet
	// (or the application no longer allows starting one). Nothing was created.
	ResolutionNotStarted
)

func (s ResolutionState) String() string {
	switch s {
	case ResolutionFound:
		return "found"
	case ResolutionCreated:
		return "created"
	case ResolutionNotStarted:
		return "not_started"
	default:
		return "unknown"
	}
}

// Resolution is the result of ResolveApplicationConversation.
type Resolution struct {
	State ResolutionState

	// Conversation is nil when State is ResolutionNotStarted.
	Conversation *models.Conversation

	Application *models.Application
}

// Aggregator builds the inbox and resolves conversations.
type Aggregator struct {
	store        Store
	directory    Directory
	applications Applications

	retryBackoff  time.Duration
	concurrency   int
	previewLength int
	logger        zerolog.Logger
}

// ListConversations returns the viewer's inbox: every conversation of
// either kind they take part in, with counterpart name, last message
// preview and unread count, ranked newest first.
func (a *Aggregator) ListConversations(ctx context.Context, viewer string) ([]models.InboxEntry, error) {
	if strings.TrimSpace(viewer) == "" {
		return nil, fmt.Errorf("viewer is required: %w", ErrAccessDenied)
	}

	convs, err := retryOnce(ctx, a.retryBackoff, a.logger, "list_conversations", func() ([]*models.Conversation, error) {
		return a.store.ListConversationsForParticipant(ctx, viewer)
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	seen := make(map[string]struct{}, len(convs))
	unique := make([]*models.Conversation, 0, len(convs))
	for _, conv := range convs {
		if conv == nil || !conv.HasParticipant(viewer) || conv.OtherParticipant(viewer) == "" {
			continue
		}
		if _, dup := seen[conv.ID]; dup {
			continue
		}
		seen[conv.ID] = struct{}{}
		unique = append(unique, conv)
	}

	entries := make([]models.InboxEntry, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, conv := range unique {
		i, conv := i, conv
		g.Go(func() error {
			entry, err := a.summarize(gctx, conv, viewer)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	models.RankInbox(entries)
	a.logger.Debug().
		Str("viewer_id", viewer).
		Int("conversations", len(entries)).
		Int("unread", models.TotalUnread(entries)).
		Msg("inbox aggregated")
	return entries, nil
}

func (a *Aggregator) summarize(ctx context.Context, conv *models.Conversation, viewer string) (models.InboxEntry, error) {
	msgs, err := retryOnce(ctx, a.retryBackoff, a.logger, "list_messages", func() ([]*models.Message, error) {
		return a.store.ListMessages(ctx, conv.ID)
	})
	if err != nil {
		return models.InboxEntry{}, fmt.Errorf("list messages for %s: %w", conv.ID, err)
	}
	models.SortMessages(msgs)

	other := conv.OtherParticipant(viewer)
	entry := models.InboxEntry{
		Conversation:     *conv,
		OtherParticipant: other,
		OtherDisplayName: a.displayName(ctx, other),
		UnreadCount:      models.CountUnread(msgs, viewer),
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		at := last.CreatedAt
		entry.LastMessageAt = &at
		entry.LastMessagePreview = previewOf(last, a.previewLength)
	}
	return entry, nil
}

func previewOf(msg *models.Message, length int) string {
	if models.IsBlank(msg.Content) && msg.Attachment != nil {
		name := msg.Attachment.Name
		if name == "" {
			name = "file"
		}
		return "[attachment] " + logging.Preview(name, length)
	}
	return logging.Preview(msg.Content, length)
}

// displayName never fails; an unknown or unreachable profile shows the id.
func (a *Aggregator) displayName(ctx context.Context, userID string) string {
	if a.directory == nil {
		return userID
	}
	profile, err := a.directory.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.Warn().Err(err).Str("user_id", userID).Msg("display name lookup failed")
		}
		return userID
	}
	return profile.Name()
}

// ResolveApplicationConversation finds the conversation anchored to an
// application, creating it when the initiator opens it for the first time.
// The applicant never creates it and gets ResolutionNotStarted instead.
func (a *Aggregator) ResolveApplicationConversation(ctx context.Context, applicationID, viewer string) (Resolution, error) {
	if a.applications == nil {
		return Resolution{}, fmt.Errorf("application %s: %w", applicationID, ErrNotFound)
	}

	app, err := retryOnce(ctx, a.retryBackoff, a.logger, "get_application", func() (*models.Application, error) {
		return a.applications.Get(ctx, applicationID)
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve application %s: %w", applicationID, err)
	}

	role := app.Role(viewer)
	if role == "" {
		return Resolution{}, fmt.Errorf("viewer is not a party to application %s: %w", applicationID, ErrAccessDenied)
	}

	conv, err := retryOnce(ctx, a.retryBackoff, a.logger, "find_conversation", func() (*models.Conversation, error) {
		return a.store.FindConversation(ctx, models.ApplicationKey(app.ID))
	})
	switch {
	case err == nil:
		if !conv.HasParticipant(viewer) {
			return Resolution{}, fmt.Errorf("conversation %s: %w", conv.ID, ErrAccessDenied)
		}
		return Resolution{State: ResolutionFound, Conversation: conv, Application: app}, nil
	case !errors.Is(err, ErrNotFound):
		return Resolution{}, fmt.Errorf("find application conversation: %w", err)
	}

	if role != models.RoleInitiator || !app.Status.AllowsConversation() {
		return Resolution{State: ResolutionNotStarted, Application: app}, nil
	}

	// Creation converges on conflict, so retrying it is safe.
	conv, err = retryOnce(ctx, a.retryBackoff, a.logger, "create_conversation", func() (*models.Conversation, error) {
		return a.store.CreateConversation(ctx, &models.Conversation{
			Kind:         models.ConversationKindApplication,
			ParticipantA: app.InitiatorID,
			ParticipantB: app.ApplicantID,
			Anchor:       app.Anchor(),
		})
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create application conversation: %w", err)
	}

	a.logger.Info().
		Str("conversation_id", conv.ID).
		Str("application_id", app.ID).
		Msg("application conversation started")
	return Resolution{State: ResolutionCreated, Conversation: conv, Application: app}, nil
}

// ResolveDirectConversation finds or creates the single direct conversation
// between viewer and peer. Both peers calling at once get the same record.
func (a *Aggregator) ResolveDirectConversation(ctx context.Context, peerID, viewer string) (*models.Conversation, error) {
	if err := a.checkPeer(ctx, peerID, viewer); err != nil {
		return nil, err
	}

	conv, err := retryOnce(ctx, a.retryBackoff, a.logger, "create_conversation", func() (*models.Conversation, error) {
		return a.store.CreateConversation(ctx, &models.Conversation{
			Kind:         models.ConversationKindDirect,
			ParticipantA: viewer,
			ParticipantB: peerID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("resolve direct conversation: %w", err)
	}
	if err := checkPair(conv, peerID, viewer); err != nil {
		return nil, err
	}
	return conv, nil
}

// findDirectConversation looks up without creating. It returns nil, nil when
// the pair has never talked.
func (a *Aggregator) findDirectConversation(ctx context.Context, peerID, viewer string) (*models.Conversation, error) {
	if err := a.checkPeer(ctx, peerID, viewer); err != nil {
		return nil, err
	}

	conv, err := retryOnce(ctx, a.retryBackoff, a.logger, "find_conversation", func() (*models.Conversation, error) {
		return a.store.FindConversation(ctx, models.DirectKey(viewer, peerID))
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find direct conversation: %w", err)
	}
	if err := checkPair(conv, peerID, viewer); err != nil {
		return nil, err
	}
	return conv, nil
}

// checkPair refuses a record the store returned for the pair that is not
// the conversation between viewer and peer.
func checkPair(conv *models.Conversation, peerID, viewer string) error {
	if conv == nil || !conv.SamePair(viewer, peerID) {
		return fmt.Errorf("direct conversation with %s: %w", peerID, ErrAccessDenied)
	}
	return nil
}

func (a *Aggregator) checkPeer(ctx context.Context, peerID, viewer string) error {
	if strings.TrimSpace(viewer) == "" {
		return fmt.Errorf("viewer is required: %w", ErrAccessDenied)
	}
	if strings.TrimSpace(peerID) == "" {
		return fmt.Errorf("peer is required: %w", ErrNotFound)
	}
	if peerID == viewer {
		return fmt.Errorf("cannot message yourself: %w", ErrAccessDenied)
	}
	if a.directory == nil {
		return nil
	}
	_, err := retryOnce(ctx, a.retryBackoff, a.logger, "get_profile", func() (*models.Profile, error) {
		return a.directory.Get(ctx, peerID)
	})
	if err != nil {
		return fmt.Errorf("peer %s: %w", peerID, err)
	}
	return nil
}
