package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cobuilders/inbox/internal/logging"
	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationStore persists in-app notices.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// ProfileLookup resolves a recipient's email preferences.
type ProfileLookup interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

// Fanout is the default Sink. It stores an in-app notice for the recipient
// and, when the recipient opted in and a mailer is configured, sends an
// email. The email is best effort: the stored notice is the record.
type Fanout struct {
	store    NotificationStore
	profiles ProfileLookup
	mailer   Mailer
	now      func() time.Time
	logger   zerolog.Logger
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithMailer enables email delivery.
func WithMailer(m Mailer) FanoutOption {
	return func(f *Fanout) { f.mailer = m }
}

// WithProfiles sets the lookup used for email preferences.
func WithProfiles(p ProfileLookup) FanoutOption {
	return func(f *Fanout) { f.profiles = p }
}

// WithClock overrides the notice timestamp source.
func WithClock(now func() time.Time) FanoutOption {
	return func(f *Fanout) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFanout creates a Fanout over store.
func NewFanout(store NotificationStore, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.Component("notify"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Deliver implements Sink.
func (f *Fanout) Deliver(ctx context.Context, notice models.Notice) error {
	if strings.TrimSpace(notice.RecipientID) == "" {
		return errors.New("notice recipient is required")
	}

	title := Title(notice)
	n := &models.Notification{
		ID:             uuid.New().String(),
		RecipientID:    notice.RecipientID,
		ConversationID: notice.ConversationID,
		MessageKind:    notice.MessageKind,
		Title:          title,
		CreatedAt:      f.now(),
	}
	if err := f.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notice: %w", err)
	}

	if f.mailer == nil || f.profiles == nil {
		return nil
	}
	profile, err := f.profiles.Get(ctx, notice.RecipientID)
	if err != nil {
		f.logger.Debug().Err(err).Str("recipient_id", notice.RecipientID).Msg("no profile for email")
		return nil
	}
	if !profile.EmailNotifications || strings.TrimSpace(profile.Email) == "" {
		return nil
	}

	email := Email{
		To:      profile.Email,
		Subject: title,
		Body:    fmt.Sprintf("%s\r\n\r\nOpen the conversation to reply: %s", title, notice.ConversationID),
	}
	if err := f.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("email notice: %w", err)
	}
	return nil
}

// Title renders the headline shown to the recipient.
func Title(notice models.Notice) string {
	sender := strings.TrimSpace(notice.SenderDisplayName)
	if sender == "" {
		sender = "someone"
	}
	if notice.MessageKind == models.MessageKindAttachment {
		return sender + " sent you a file"
	}
	return "New message from " + sender
}
