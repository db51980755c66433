package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cobuilders/inbox/internal/models"
	"github.com/google/uuid"
)

// Application repository errors.
var (
	ErrApplicationNotFound = fmt.Errorf("application %w", models.ErrNotFound)
)

// ApplicationRepository reads and seeds the applications that anchor
// application conversations.
type ApplicationRepository struct {
	db *DB
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(db *DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create adds a new application.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	if strings.TrimSpace(app.StartupID) == "" {
		return fmt.Errorf("application startup id is required")
	}
	if app.InitiatorID == "" || app.ApplicantID == "" {
		return fmt.Errorf("application initiator and applicant are required")
	}
	if app.InitiatorID == app.ApplicantID {
		return fmt.Errorf("application initiator and applicant must differ")
	}

	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPending
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO applications (
			id, startup_id, startup_name, initiator_id, applicant_id, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		app.ID,
		app.StartupID,
		app.StartupName,
		app.InitiatorID,
		app.ApplicantID,
		string(app.Status),
		formatTime(app.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("application %s already exists", app.ID)
		}
		return fmt.Errorf("failed to insert application: %w", err)
	}
	return nil
}

// Get retrieves an application by id.
func (r *ApplicationRepository) Get(ctx context.Context, id string) (*models.Application, error) {
	var app models.Application
	var status, createdAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, startup_id, startup_name, initiator_id, applicant_id, status, created_at
		FROM applications
		WHERE id = ?
	`, id).Scan(
		&app.ID,
		&app.StartupID,
		&app.StartupName,
		&app.InitiatorID,
		&app.ApplicantID,
		&status,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to query application: %w", err)
	}

	app.Status = models.ApplicationStatus(status)
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &app, nil
}

// UpdateStatus records a review decision.
func (r *ApplicationRepository) UpdateStatus(ctx context.Context, id string, status models.ApplicationStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE applications SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrApplicationNotFound
	}
	return nil
}
