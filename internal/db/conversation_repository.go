package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
)

// Conversation repository errors.
var (
	ErrConversationNotFound = fmt.Errorf("conversation %w", models.ErrNotFound)

	// ErrConversationKeyConflict means the row stored under a lookup key
	// belongs to a different application or pair than the one asked for.
	ErrConversationKeyConflict = errors.New("conversation key held by another conversation")
)

// EventPublisher receives change notifications after commits.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event)
}

// RepositoryOption configures publishing repositories.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	publisher EventPublisher
	now       func() time.Time
	newID     func() string
}

// WithPublisher broadcasts committed changes on the given channel.
func WithPublisher(p EventPublisher) RepositoryOption {
	return func(o *repositoryOptions) {
		o.publisher = p
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) RepositoryOption {
	return func(o *repositoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(newID func() string) RepositoryOption {
	return func(o *repositoryOptions) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func applyOptions(opts []RepositoryOption) repositoryOptions {
	o := repositoryOptions{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o repositoryOptions) publish(ctx context.Context, event *models.Event) {
	if o.publisher != nil {
		o.publisher.Publish(ctx, event)
	}
}

// ConversationRepository persists both conversation kinds.
type ConversationRepository struct {
	db   *DB
	opts repositoryOptions
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db *DB, opts ...RepositoryOption) *ConversationRepository {
	return &ConversationRepository{db: db, opts: applyOptions(opts)}
}

const conversationColumns = `
	id, kind, participant_a, participant_b,
	application_id, startup_id, startup_name, created_at`

func lookupKey(key models.ConversationKey) (string, error) {
	switch key.Kind {
	case models.ConversationKindApplication:
		if strings.TrimSpace(key.ApplicationID) == "" {
			return "", fmt.Errorf("application id is required")
		}
		return key.ApplicationID, nil
	case models.ConversationKindDirect:
		a, b := key.Participants[0], key.Participants[1]
		if a == "" || b == "" {
			return "", fmt.Errorf("both participants are required")
		}
		return models.PairKey(a, b), nil
	default:
		return "", fmt.Errorf("unknown conversation kind %q", key.Kind)
	}
}

// Find looks up the conversation for a logical key.
// Returns ErrConversationNotFound when none exists yet.
func (r *ConversationRepository) Find(ctx context.Context, key models.ConversationKey) (*models.Conversation, error) {
	lookup, err := lookupKey(key)
	if err != nil {
		return nil, err
	}
	conv, err := r.findByLookup(ctx, r.db, key.Kind, lookup)
	if err != nil {
		return nil, err
	}
	if err := checkKey(conv, key); err != nil {
		return nil, err
	}
	return conv, nil
}

// checkKey guards against a stored row answering for a key it was not
// created under.
func checkKey(conv *models.Conversation, key models.ConversationKey) error {
	var ok bool
	switch key.Kind {
	case models.ConversationKindApplication:
		ok = conv.Kind == key.Kind && conv.ApplicationID() == key.ApplicationID
	case models.ConversationKindDirect:
		ok = conv.SamePair(key.Participants[0], key.Participants[1])
	}
	if !ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, ErrConversationKeyConflict)
	}
	return nil
}

func (r *ConversationRepository) findByLookup(ctx context.Context, q queryer, kind models.ConversationKind, lookup string) (*models.Conversation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE kind = ? AND lookup_key = ?
	`, string(kind), lookup)
	return r.scanConversation(row)
}

// Create inserts the conversation unless one already exists for the same
// logical key, and returns the stored record either way. Concurrent callers
// for the same key converge on one row.
func (r *ConversationRepository) Create(ctx context.Context, conv *models.Conversation) (*models.Conversation, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if conv.Kind == models.ConversationKindDirect {
		conv.ParticipantA, conv.ParticipantB = models.CanonicalPair(conv.ParticipantA, conv.ParticipantB)
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation: %w", err)
	}

	var key models.ConversationKey
	if conv.Kind == models.ConversationKindApplication {
		key = models.ApplicationKey(conv.Anchor.ApplicationID)
	} else {
		key = models.DirectKey(conv.ParticipantA, conv.ParticipantB)
	}
	lookup, err := lookupKey(key)
	if err != nil {
		return nil, err
	}

	id := conv.ID
	if id == "" {
		id = r.opts.newID()
	}
	createdAt := r.opts.now().UTC()

	var applicationID, startupID, startupName *string
	if conv.Anchor != nil {
		applicationID = &conv.Anchor.ApplicationID
		startupID = &conv.Anchor.StartupID
		startupName = &conv.Anchor.StartupName
	}

	var stored *models.Conversation
	inserted := false
	err = r.db.WriteTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (
				id, kind, lookup_key, participant_a, participant_b,
				application_id, startup_id, startup_name, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, lookup_key) DO NOTHING
		`,
			id,
			string(conv.Kind),
			lookup,
			conv.ParticipantA,
			conv.ParticipantB,
			applicationID,
			startupID,
			startupName,
			formatTime(createdAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted = affected == 1

		stored, err = r.findByLookup(ctx, tx, conv.Kind, lookup)
		if err != nil {
			return err
		}
		return checkKey(stored, key)
	})
	if err != nil {
		return nil, err
	}

	if inserted {
		r.db.logger.Debug().
			Str("conversation_id", stored.ID).
			Str("kind", string(stored.Kind)).
			Msg("conversation created")
		r.opts.publish(ctx, &models.Event{
			Type:           models.EventTypeConversationCreated,
			ConversationID: stored.ID,
			Participants:   stored.Participants(),
		})
	}

	return stored, nil
}

// Get retrieves a conversation by id.
func (r *ConversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ?
	`, id)
	return r.scanConversation(row)
}

// ListForParticipant returns every conversation of either kind the user
// takes part in, oldest first.
func (r *ConversationRepository) ListForParticipant(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY created_at, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConversationRepository) scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var kind, createdAt string
	var applicationID, startupID, startupName sql.NullString

	err := row.Scan(
		&conv.ID,
		&kind,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&applicationID,
		&startupID,
		&startupName,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	conv.Kind = models.ConversationKind(kind)
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if applicationID.Valid {
		conv.Anchor = &models.Anchor{
			ApplicationID: applicationID.String,
			StartupID:     startupID.String,
			StartupName:   startupName.String,
		}
	}
	return &conv, nil
}
