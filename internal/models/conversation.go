package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ConversationKind discriminates the two conversation variants.
type ConversationKind string

const (
	// ConversationKindApplication is anchored to a job application.
	ConversationKindApplication ConversationKind = "application"
	// ConversationKindDirect is a free-standing two-party conversation.
	ConversationKindDirect ConversationKind = "direct"
)

// Valid reports whether k is a known kind.
func (k ConversationKind) Valid() bool {
	return k == ConversationKindApplication || k == ConversationKindDirect
}

// Anchor references the application (and startup) an application-scoped
// conversation was opened for. Used for display only, never for identity
// beyond the one-conversation-per-application rule.
type Anchor struct {
	ApplicationID string `json:"application_id"`
	StartupID     string `json:"startup_id,omitempty"`
	StartupName   string `json:"startup_name,omitempty"`
}

// Conversation is the shape shared by both conversation kinds at the
// aggregation boundary.
//
// For application conversations ParticipantA is the initiator and
// ParticipantB the applicant. For direct conversations the pair is unordered;
// the store keeps them in canonical (sorted) order.
type Conversation struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`

	// Kind is the variant tag.
	Kind ConversationKind `json:"kind"`

	ParticipantA string `json:"participant_a"`
	ParticipantB string `json:"participant_b"`

	// Anchor is set only for application conversations.
	Anchor *Anchor `json:"anchor,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
}

// HasParticipant tells whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	if c == nil || userID == "" {
		return false
	}
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the counterpart of viewer, or "" if viewer is not
// a participant.
func (c *Conversation) OtherParticipant(viewer string) string {
	switch {
	case c == nil:
		return ""
	case c.ParticipantA == viewer:
		return c.ParticipantB
	case c.ParticipantB == viewer:
		return c.ParticipantA
	default:
		return ""
	}
}

// Participants returns both parties.
func (c *Conversation) Participants() []string {
	if c == nil {
		return nil
	}
	return []string{c.ParticipantA, c.ParticipantB}
}

// ApplicationID returns the anchor's application id for application
// conversations and "" otherwise.
func (c *Conversation) ApplicationID() string {
	if c == nil || c.Kind != ConversationKindApplication || c.Anchor == nil {
		return ""
	}
	return c.Anchor.ApplicationID
}

// Validate checks structural invariants before persistence.
func (c *Conversation) Validate() error {
	validation := &ValidationErrors{}
	if !c.Kind.Valid() {
		validation.AddMessage("kind", "must be application or direct")
	}
	if strings.TrimSpace(c.ParticipantA) == "" {
		validation.AddMessage("participant_a", "is required")
	}
	if strings.TrimSpace(c.ParticipantB) == "" {
		validation.AddMessage("participant_b", "is required")
	}
	if c.ParticipantA != "" && c.ParticipantA == c.ParticipantB {
		validation.AddMessage("participant_b", "must differ from participant_a")
	}
	switch c.Kind {
	case ConversationKindApplication:
		if c.Anchor == nil || strings.TrimSpace(c.Anchor.ApplicationID) == "" {
			validation.AddMessage("anchor.application_id", "is required for application conversations")
		}
	case ConversationKindDirect:
		if c.Anchor != nil {
			validation.AddMessage("anchor", "must be empty for direct conversations")
		}
	}
	return validation.Err()
}

// CanonicalPair orders two participant ids so that the pair forms a stable
// idempotency key regardless of who initiates.
func CanonicalPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}

// PairKey is the uniqueness key for direct conversations. The first id is
// prefixed with its byte length so ids containing the separator cannot make
// two different pairs share a key.
func PairKey(a, b string) string {
	first, second := CanonicalPair(a, b)
	return strconv.Itoa(len(first)) + ":" + first + ":" + second
}

// SamePair reports whether c is the direct conversation between a and b.
func (c *Conversation) SamePair(a, b string) bool {
	first, second := CanonicalPair(a, b)
	x, y := CanonicalPair(c.ParticipantA, c.ParticipantB)
	return c.Kind == ConversationKindDirect && x == first && y == second
}

// ConversationKey identifies a logical conversation for find/create.
// Application conversations are keyed by ApplicationID, direct ones by the
// participant pair.
type ConversationKey struct {
	Kind          ConversationKind
	ApplicationID string
	Participants  [2]string
}

// ApplicationKey builds the lookup key for an application conversation.
func ApplicationKey(applicationID string) ConversationKey {
	return ConversationKey{Kind: ConversationKindApplication, ApplicationID: applicationID}
}

// DirectKey builds the lookup key for a direct conversation.
func DirectKey(a, b string) ConversationKey {
	first, second := CanonicalPair(a, b)
	return ConversationKey{Kind: ConversationKindDirect, Participants: [2]string{first, second}}
}
