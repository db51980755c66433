package models

import "time"

// ApplicationStatus is the review state of an application.
type ApplicationStatus string

const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusAccepted  ApplicationStatus = "accepted"
	ApplicationStatusRejected  ApplicationStatus = "rejected"
	ApplicationStatusWithdrawn ApplicationStatus = "withdrawn"
)

// AllowsConversation reports whether a new conversation may be started for
// an application in this state.
func (s ApplicationStatus) AllowsConversation() bool {
	return s == ApplicationStatusPending || s == ApplicationStatusAccepted
}

// Application is a co-builder's application to join a startup.
// Owned by the application workflow; read-only here.
type Application struct {
	ID          string            `json:"id"`
	StartupID   string            `json:"startup_id"`
	StartupName string            `json:"startup_name"`
	InitiatorID string            `json:"initiator_id"`
	ApplicantID string            `json:"applicant_id"`
	Status      ApplicationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Role returns the viewer's role on the application, or "" when the viewer is
// neither party.
func (a *Application) Role(viewer string) ParticipantRole {
	switch {
	case a == nil || viewer == "":
		return ""
	case a.InitiatorID == viewer:
		return RoleInitiator
	case a.ApplicantID == viewer:
		return RoleApplicant
	default:
		return ""
	}
}

// Anchor builds the display anchor for conversations opened on this application.
func (a *Application) Anchor() *Anchor {
	return &Anchor{ApplicationID: a.ID, StartupID: a.StartupID, StartupName: a.StartupName}
}

// ParticipantRole is the fixed role of a party in an application conversation.
type ParticipantRole string

const (
	RoleInitiator ParticipantRole = "initiator"
	RoleApplicant ParticipantRole = "applicant"
)
