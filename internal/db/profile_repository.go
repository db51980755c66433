package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cobuilders/inbox/internal/models"
)

// Profile repository errors.
var (
	ErrProfileNotFound = fmt.Errorf("profile %w", models.ErrNotFound)
)

// ProfileRepository is the user directory: display names and email
// preferences.
type ProfileRepository struct {
	db *DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert creates or replaces a profile.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("profile id is required")
	}

	now := formatTime(nowUTC())
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, email, email_notifications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			email_notifications = excluded.email_notifications,
			updated_at = excluded.updated_at
	`,
		profile.ID,
		profile.DisplayName,
		profile.Email,
		boolToInt(profile.EmailNotifications),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Get retrieves a profile by user id.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	var emailNotifications int

	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, email_notifications
		FROM profiles
		WHERE id = ?
	`, id).Scan(&profile.ID, &profile.DisplayName, &profile.Email, &emailNotifications)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	profile.EmailNotifications = emailNotifications != 0
	return &profile, nil
}
