package models

import "strings"

// Profile is the display identity of a user.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`

	// EmailNotifications opts the user into message emails.
	EmailNotifications bool `json:"email_notifications"`
}

// Name returns the display name, falling back to the id.
func (p *Profile) Name() string {
	if p == nil {
		return ""
	}
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return p.ID
}
